// Package server accepts TLS connections and drives one session per
// connection: handshake, command loop, dispatch under the combined critical
// section, ledger append for successful transactions.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/fastprodman/moneyexchange/internal/auth"
	"github.com/fastprodman/moneyexchange/internal/catalog"
	"github.com/fastprodman/moneyexchange/internal/keystore"
	"github.com/fastprodman/moneyexchange/internal/ledger"
	"github.com/fastprodman/moneyexchange/internal/services/exchange"
)

type Server struct {
	addr     string
	identity *keystore.Identity

	store    *catalog.Store
	ledger   *ledger.Ledger
	sessions *auth.Registry
	auth     *auth.Authenticator
	svc      *exchange.Service

	// stateMu is the combined critical section over the catalogs: exactly
	// one command may run its update-dispatch-save cycle at a time. The
	// ledger serializes its own appends separately.
	stateMu sync.Mutex

	ln net.Listener
}

func New(addr string, identity *keystore.Identity, store *catalog.Store, led *ledger.Ledger, sessions *auth.Registry, certs *auth.CertStore) *Server {
	return &Server{
		addr:     addr,
		identity: identity,
		store:    store,
		ledger:   led,
		sessions: sessions,
		auth:     &auth.Authenticator{Sessions: sessions, Certs: certs},
		svc:      exchange.New(store),
	}
}

// Listen opens the TLS listener with the server's identity certificate.
func (s *Server) Listen() error {
	ln, err := tls.Listen("tcp", s.addr, &tls.Config{
		Certificates: []tls.Certificate{s.identity.TLSCertificate()},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.ln = ln
	slog.Info("server listening", "addr", s.addr)

	return nil
}

// Serve runs the accept loop until the listener is closed. The loop only
// spawns sessions; it never waits on them.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("accept: %w", err)
		}

		go s.handle(conn)
	}
}

// Close stops accepting new connections. Live sessions run to completion of
// their current command and then fail on their next read.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}

	return s.ln.Close()
}

// Addr returns the listener address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}

	return s.ln.Addr()
}
