package auth

import (
	"bufio"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrUnknownUser = errors.New("no certificate stored for user")
	ErrNotRSAKey   = errors.New("stored certificate does not carry an RSA public key")
)

// CertStore persists client certificates: one DER file per user under the
// certificates directory, plus a plaintext "username:path" index file.
type CertStore struct {
	mu        sync.Mutex
	indexPath string
	certDir   string
}

func NewCertStore(indexPath, certDir string) *CertStore {
	return &CertStore{indexPath: indexPath, certDir: certDir}
}

// Ensure creates the certificates directory and an empty index file.
func (s *CertStore) Ensure() error {
	if err := os.MkdirAll(s.certDir, 0o700); err != nil {
		return fmt.Errorf("create certificates dir: %w", err)
	}

	f, err := os.OpenFile(s.indexPath, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create certificate index: %w", err)
	}

	return f.Close()
}

// Lookup returns the stored certificate for username, or ErrUnknownUser.
func (s *CertStore) Lookup(username string) (*x509.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.certPath(username)
	if err != nil {
		return nil, err
	}

	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate for %q: %w", username, err)
	}

	return cert, nil
}

// Store writes the certificate DER and records it in the index.
func (s *CertStore) Store(username string, der []byte) error {
	if _, err := x509.ParseCertificate(der); err != nil {
		return fmt.Errorf("parse certificate before store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.certDir, username+"Certificate.cer")

	if err := os.WriteFile(path, der, 0o600); err != nil {
		return fmt.Errorf("write certificate file: %w", err)
	}

	f, err := os.OpenFile(s.indexPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open certificate index: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s:%s\n", username, path); err != nil {
		return fmt.Errorf("append certificate index: %w", err)
	}

	return nil
}

// PublicKey resolves a username to the RSA public key of their stored
// certificate. Satisfies ledger.PublicKeyFunc.
func (s *CertStore) PublicKey(username string) (*rsa.PublicKey, error) {
	cert, err := s.Lookup(username)
	if err != nil {
		return nil, err
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}

	return pub, nil
}

// certPath scans the index for the username's certificate file.
func (s *CertStore) certPath(username string) (string, error) {
	f, err := os.Open(s.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrUnknownUser
	}

	if err != nil {
		return "", fmt.Errorf("open certificate index: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, path, ok := strings.Cut(sc.Text(), ":")
		if ok && name == username {
			return path, nil
		}
	}

	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scan certificate index: %w", err)
	}

	return "", ErrUnknownUser
}
