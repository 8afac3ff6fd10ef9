package ledger

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

var (
	ErrChainBroken      = errors.New("block hash does not match predecessor")
	ErrBadBlockSig      = errors.New("block signature verification failed")
	ErrBadBlockNumber   = errors.New("block number does not match position")
	ErrBadRecord        = errors.New("transaction record verification failed")
	ErrBlockGap         = errors.New("missing block file in sequence")
	ErrSealedShortBlock = errors.New("sealed block holds fewer than the batch size")
)

// PublicKeyFunc resolves a username to the public key of their stored
// certificate, used to re-verify every recorded transaction.
type PublicKeyFunc func(username string) (*rsa.PublicKey, error)

// Open replays and validates the whole chain in dir and returns a Ledger
// positioned on the last open block. Any integrity failure is returned as an
// error; the caller must treat it as fatal and refuse to serve.
func Open(dir string, signKey *rsa.PrivateKey, serverPub *rsa.PublicKey, resolve PublicKeyFunc) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	blocks, err := Verify(dir, serverPub, resolve)
	if err != nil {
		return nil, err
	}

	l := &Ledger{dir: dir, signKey: signKey}

	if len(blocks) == 0 {
		l.current = NewBlock(1, [HashSize]byte{})
		return l, nil
	}

	last := blocks[len(blocks)-1]
	if last.Sealed() {
		// Chain ends on a full block: start the next one.
		l.current = NewBlock(last.Num+1, last.Hash())
	} else {
		l.current = last
	}

	slog.Info("ledger chain verified",
		"blocks", len(blocks),
		"currentBlock", l.current.Num,
		"openTransactions", l.current.Count,
	)

	return l, nil
}

// Verify loads every block file in dir in ascending block order and
// validates the chain: hash linkage, server seal on full blocks, positional
// block numbers and every individual transaction signature. It returns the
// verified blocks in order.
func Verify(dir string, serverPub *rsa.PublicKey, resolve PublicKeyFunc) ([]*Block, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read ledger dir: %w", err)
	}

	type numberedFile struct {
		num  uint64
		name string
	}

	var files []numberedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := blockNumFromFilename(e.Name()); ok {
			files = append(files, numberedFile{num: n, name: e.Name()})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].num < files[j].num })

	var (
		blocks   []*Block
		prevHash [HashSize]byte
	)

	for i, f := range files {
		raw, err := os.ReadFile(dir + string(os.PathSeparator) + f.name)
		if err != nil {
			return nil, fmt.Errorf("read block file %s: %w", f.name, err)
		}

		b := new(Block)
		if err := b.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("decode block file %s: %w", f.name, err)
		}

		if !bytes.Equal(b.PrevHash[:], prevHash[:]) {
			return nil, fmt.Errorf("block %d: %w", b.Num, ErrChainBroken)
		}

		if b.Num != uint64(i+1) {
			return nil, fmt.Errorf("block %d at position %d: %w", b.Num, i+1, ErrBadBlockNumber)
		}

		if b.Sealed() {
			if b.Count != BlockSize {
				return nil, fmt.Errorf("block %d: %w", b.Num, ErrSealedShortBlock)
			}

			if err := b.VerifySignature(serverPub); err != nil {
				return nil, fmt.Errorf("block %d: %w: %v", b.Num, ErrBadBlockSig, err)
			}
		} else if i != len(files)-1 {
			// Only the newest block may still be open.
			return nil, fmt.Errorf("block %d is unsealed mid-chain: %w", b.Num, ErrBlockGap)
		}

		if err := verifyRecords(b, resolve); err != nil {
			return nil, err
		}

		prevHash = b.Hash()
		blocks = append(blocks, b)
	}

	return blocks, nil
}

func verifyRecords(b *Block, resolve PublicKeyFunc) error {
	if len(b.Records) != len(b.Transactions) {
		return fmt.Errorf("block %d: %d records for %d transactions: %w",
			b.Num, len(b.Records), len(b.Transactions), ErrBadRecord)
	}

	for i, rec := range b.Records {
		// The sender is the first token of the recorded description.
		sender, _, ok := strings.Cut(b.Transactions[i], " ")
		if !ok {
			return fmt.Errorf("block %d record %d: malformed description: %w", b.Num, i, ErrBadRecord)
		}

		pub, err := resolve(sender)
		if err != nil {
			return fmt.Errorf("block %d record %d: resolve sender %q: %w", b.Num, i, sender, err)
		}

		if err := rec.Verify(pub); err != nil {
			return fmt.Errorf("block %d record %d: %w: %v", b.Num, i, ErrBadRecord, err)
		}
	}

	return nil
}
