// Package auth implements per-connection identity: the active-session
// registry, the client certificate store and the challenge/response
// handshake that binds a connection to a verified public key.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fastprodman/moneyexchange/internal/wire"
)

var (
	ErrUserActive   = errors.New("user already has an active session")
	ErrBadNonce     = errors.New("nonce echo mismatch")
	ErrBadSignature = errors.New("nonce signature verification failed")
)

// Result is a successful handshake: a username bound to a verified public
// key, plus the registry token that must be released on disconnect.
type Result struct {
	Username  string
	PublicKey *rsa.PublicKey
	New       bool
	SessionID uuid.UUID
}

// Authenticator runs the handshake for one freshly-accepted connection.
type Authenticator struct {
	Sessions *Registry
	Certs    *CertStore
}

// Handshake executes the bootstrap or login protocol over c. On failure the
// session reservation is released and the connection must be torn down; on
// success the caller owns the reservation and releases it via the registry
// when the connection ends.
//
// Returning users prove possession of the key in their stored certificate by
// signing a fresh nonce. First-contact users first echo the nonce (liveness
// before any trust), then present the signed nonce together with their
// self-signed certificate, which is verified against itself and persisted.
func (a *Authenticator) Handshake(c *wire.Codec) (res *Result, err error) {
	username, err := c.ReadString()
	if err != nil {
		return nil, fmt.Errorf("read username: %w", err)
	}

	// Reserve the username before any cryptographic work. Of two racing
	// logins, exactly one gets past this point.
	token, ok := a.Sessions.Acquire(username)
	if !ok {
		_ = c.WriteStatus(false)
		return nil, fmt.Errorf("user %q: %w", username, ErrUserActive)
	}

	defer func() {
		if err != nil {
			a.Sessions.Release(username, token)
		}
	}()

	if err := c.WriteStatus(true); err != nil {
		return nil, fmt.Errorf("send session status: %w", err)
	}

	storedCert, err := a.Certs.Lookup(username)
	if err != nil && !errors.Is(err, ErrUnknownUser) {
		return nil, fmt.Errorf("lookup certificate: %w", err)
	}

	returning := storedCert != nil

	if err := c.WriteBool(returning); err != nil {
		return nil, fmt.Errorf("send certificate-exists: %w", err)
	}

	nonce, err := freshNonce()
	if err != nil {
		return nil, err
	}

	if err := c.WriteInt64(nonce); err != nil {
		return nil, fmt.Errorf("send nonce: %w", err)
	}

	if !returning {
		if err := a.verifyEcho(c, nonce); err != nil {
			return nil, err
		}
	}

	pub, err := a.verifySignedNonce(c, username, nonce, storedCert)
	if err != nil {
		return nil, err
	}

	slog.Info("handshake complete", "user", username, "new", !returning)

	return &Result{
		Username:  username,
		PublicKey: pub,
		New:       !returning,
		SessionID: token,
	}, nil
}

// verifyEcho is the first-contact liveness check: the peer must return the
// nonce verbatim before any certificate is accepted.
func (a *Authenticator) verifyEcho(c *wire.Codec, nonce int64) error {
	echo, err := c.ReadInt64()
	if err != nil {
		return fmt.Errorf("read nonce echo: %w", err)
	}

	if echo != nonce {
		_ = c.WriteStatus(false)
		return ErrBadNonce
	}

	return c.WriteStatus(true)
}

// verifySignedNonce reads the signature over the nonce and, for first
// contact (storedCert == nil), the peer's self-signed certificate. The
// signature is checked against the stored certificate for returning users
// and against the received one for new users; only then is a new
// certificate persisted.
func (a *Authenticator) verifySignedNonce(c *wire.Codec, username string, nonce int64, storedCert *x509.Certificate) (*rsa.PublicKey, error) {
	sig, err := c.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("read signed nonce: %w", err)
	}

	cert := storedCert

	var certDER []byte
	if cert == nil {
		certDER, err = c.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("read certificate: %w", err)
		}

		cert, err = x509.ParseCertificate(certDER)
		if err != nil {
			_ = c.WriteStatus(false)
			return nil, fmt.Errorf("parse client certificate: %w", err)
		}
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		_ = c.WriteStatus(false)
		return nil, ErrNotRSAKey
	}

	digest := sha256.Sum256(nonceBytes(nonce))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		_ = c.WriteStatus(false)
		return nil, fmt.Errorf("user %q: %w", username, ErrBadSignature)
	}

	if storedCert == nil {
		if err := a.Certs.Store(username, certDER); err != nil {
			_ = c.WriteStatus(false)
			return nil, fmt.Errorf("store client certificate: %w", err)
		}
	}

	if err := c.WriteStatus(true); err != nil {
		return nil, fmt.Errorf("send handshake status: %w", err)
	}

	return pub, nil
}

// freshNonce draws a random 64-bit challenge. Single-use: a new connection
// attempt always gets a new nonce.
func freshNonce() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}

	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// nonceBytes is the canonical signing encoding of a nonce: 8 bytes,
// big-endian.
func nonceBytes(nonce int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(nonce))

	return buf[:]
}

// SignNonce produces the client-side proof over a nonce. It lives here so
// tests and client tooling share the exact canonical encoding the server
// verifies.
func SignNonce(key *rsa.PrivateKey, nonce int64) ([]byte, error) {
	digest := sha256.Sum256(nonceBytes(nonce))

	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign nonce: %w", err)
	}

	return sig, nil
}
