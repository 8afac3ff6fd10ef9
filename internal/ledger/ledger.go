// Package ledger implements the tamper-evident transaction log: an
// in-memory open block plus a directory of numbered block files, each block
// hash-chained to its predecessor and signed by the server once full. Two
// independent mechanisms detect tampering at startup: the block-level hash
// chain and signature, and the per-transaction client signatures.
package ledger

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const blockFilePattern = "block_%d.blk"

// Ledger is the single writer of the block chain. Appends are serialized by
// its own lock, independent of the catalog critical section.
type Ledger struct {
	mu      sync.Mutex
	dir     string
	signKey *rsa.PrivateKey
	current *Block
}

// Append records one executed transaction. The description is derived from
// the verified signed payload, never from unauthenticated client input.
// Reaching BlockSize transactions seals the block: it is signed, persisted,
// hashed, and a fresh open block chained to it becomes current. Short of
// that, the open block is re-persisted so the latest append survives a
// crash.
func (l *Ledger) Append(sender, receiver string, amount float64, rec SignedRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	desc := fmt.Sprintf("%s sent %.2f€ to %s", sender, amount, receiver)

	l.current.Transactions = append(l.current.Transactions, desc)
	l.current.Records = append(l.current.Records, rec)
	l.current.Count++

	if l.current.Count < BlockSize {
		if err := l.persistCurrent(); err != nil {
			return fmt.Errorf("persist open block: %w", err)
		}

		return nil
	}

	if err := l.current.Sign(l.signKey); err != nil {
		return fmt.Errorf("seal block %d: %w", l.current.Num, err)
	}

	if err := l.persistCurrent(); err != nil {
		return fmt.Errorf("persist sealed block: %w", err)
	}

	sealed := l.current
	l.current = NewBlock(sealed.Num+1, sealed.Hash())

	slog.Info("ledger block sealed", "block", sealed.Num, "next", l.current.Num)

	return nil
}

// Status returns the current block number and its transaction count.
func (l *Ledger) Status() (uint64, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.current.Num, l.current.Count
}

func (l *Ledger) persistCurrent() error {
	path := filepath.Join(l.dir, fmt.Sprintf(blockFilePattern, l.current.Num))

	if err := os.WriteFile(path, l.current.MarshalBinary(), 0o600); err != nil {
		return fmt.Errorf("write block file: %w", err)
	}

	return nil
}

func blockNumFromFilename(name string) (uint64, bool) {
	var n uint64
	if _, err := fmt.Sscanf(name, blockFilePattern, &n); err != nil {
		return 0, false
	}

	if !strings.HasSuffix(name, ".blk") {
		return 0, false
	}

	return n, true
}
