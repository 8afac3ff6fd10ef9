package auth

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which usernames have a live session. It has its own lock,
// independent of the catalog critical section, so session checks never wait
// on in-flight commands. A username is reserved at the very start of the
// handshake and released on disconnect or handshake failure, which makes
// two racing logins for the same name resolve to exactly one winner.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]uuid.UUID)}
}

// Acquire reserves username and returns a session token. It fails when a
// session for the username is already live.
func (r *Registry) Acquire(username string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[username]; taken {
		return uuid.Nil, false
	}

	token := uuid.New()
	r.sessions[username] = token

	return token, true
}

// Release frees the username, but only for the holder of its token: a stale
// release from an already-replaced session must not evict the live one.
func (r *Registry) Release(username string, token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[username] == token {
		delete(r.sessions, username)
	}
}

// Active reports whether username currently holds a session.
func (r *Registry) Active(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[username]

	return ok
}
