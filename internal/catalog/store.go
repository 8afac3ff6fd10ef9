// Package catalog holds the shared in-memory catalogs (accounts, groups,
// QR-code payments) and their encrypted-at-rest persistence. Every snapshot
// file has a companion .param file carrying the salt and nonce used to seal
// it. None of the catalogs lock internally: the connection server serializes
// all catalog access behind one combined critical section.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	resourcesDirName = "resources"

	usersDataFile   = "users_data.bin"
	usersParamFile  = "users_data.param"
	groupsDataFile  = "groups_data.bin"
	groupsParamFile = "groups_data.param"
	qrDataFile      = "qrcodes_data.bin"
	qrParamFile     = "qrcodes_data.param"
	counterFile     = "reqid.txt"
)

// Store bundles the three catalogs and the request-id counter under one
// data directory.
type Store struct {
	resourcesDir string

	Users   *Users
	Groups  *Groups
	QRCodes *QRCodes
	Counter *Counter
}

func NewStore(dataDir, password string) *Store {
	dir := filepath.Join(dataDir, resourcesDirName)

	return &Store{
		resourcesDir: dir,
		Users: NewUsers(
			filepath.Join(dir, usersDataFile),
			filepath.Join(dir, usersParamFile),
			password,
		),
		Groups: NewGroups(
			filepath.Join(dir, groupsDataFile),
			filepath.Join(dir, groupsParamFile),
			password,
		),
		QRCodes: NewQRCodes(
			filepath.Join(dir, qrDataFile),
			filepath.Join(dir, qrParamFile),
			password,
		),
		Counter: NewCounter(filepath.Join(dir, counterFile)),
	}
}

// EnsureLayout creates the resources directory and the counter file.
func (s *Store) EnsureLayout() error {
	if err := os.MkdirAll(s.resourcesDir, 0o700); err != nil {
		return fmt.Errorf("create resources dir: %w", err)
	}

	if err := s.Counter.Ensure(); err != nil {
		return fmt.Errorf("ensure counter: %w", err)
	}

	return nil
}

// LoadAll re-reads every catalog snapshot from disk. Missing snapshots leave
// the corresponding catalog empty.
func (s *Store) LoadAll() error {
	return errors.Join(
		s.Users.Load(),
		s.Groups.Load(),
		s.QRCodes.Load(),
	)
}

// SaveAll persists every catalog snapshot. Called after each dispatched
// command, before the response reaches the client.
func (s *Store) SaveAll() error {
	return errors.Join(
		s.Users.Save(),
		s.Groups.Save(),
		s.QRCodes.Save(),
	)
}
