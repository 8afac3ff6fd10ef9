package ledger

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// testKeys holds the server key plus per-user client keys, shared across the
// package tests. RSA key generation is slow enough to be worth amortizing.
type testKeys struct {
	server *rsa.PrivateKey
	users  map[string]*rsa.PrivateKey
}

func newTestKeys(t *testing.T, usernames ...string) *testKeys {
	t.Helper()

	server, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate server key: %v", err)
	}

	users := make(map[string]*rsa.PrivateKey, len(usernames))
	for _, u := range usernames {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key for %s: %v", u, err)
		}
		users[u] = key
	}

	return &testKeys{server: server, users: users}
}

func (k *testKeys) resolve(username string) (*rsa.PublicKey, error) {
	key, ok := k.users[username]
	if !ok {
		return nil, fmt.Errorf("no key for %s", username)
	}

	return &key.PublicKey, nil
}

// signedRecord builds the client-side evidence for one transfer, the way a
// connected client signs its "receiver-amount" payload.
func (k *testKeys) signedRecord(t *testing.T, sender, receiver string, amount float64) SignedRecord {
	t.Helper()

	payload := []byte(fmt.Sprintf("%s-%v", receiver, amount))
	digest := sha256.Sum256(payload)

	sig, err := rsa.SignPKCS1v15(nil, k.users[sender], crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign record: %v", err)
	}

	return SignedRecord{Payload: payload, Signature: sig}
}

func openTestLedger(t *testing.T, dir string, keys *testKeys) *Ledger {
	t.Helper()

	l, err := Open(dir, keys.server, &keys.server.PublicKey, keys.resolve)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	return l
}

func TestAppendSealsAtBlockSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	for i := 0; i < BlockSize; i++ {
		rec := keys.signedRecord(t, "alice", "bob", 1)
		if err := l.Append("alice", "bob", 1, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	num, count := l.Status()
	if num != 2 || count != 0 {
		t.Fatalf("after sealing: want block 2 with 0 transactions, got block %d with %d", num, count)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "block_1.blk"))
	if err != nil {
		t.Fatalf("read sealed block file: %v", err)
	}

	b := new(Block)
	if err := b.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode sealed block: %v", err)
	}

	if !b.Sealed() {
		t.Fatalf("block 1 not sealed after %d transactions", BlockSize)
	}
	if err := b.VerifySignature(&keys.server.PublicKey); err != nil {
		t.Fatalf("sealed block signature invalid: %v", err)
	}
	if got := b.Transactions[0]; got != "alice sent 1.00€ to bob" {
		t.Fatalf("transaction description mismatch: got %q", got)
	}
}

func TestOpenBlockPersistsEachAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	rec := keys.signedRecord(t, "alice", "bob", 2.5)
	if err := l.Append("alice", "bob", 2.5, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a restart: a fresh ledger over the same directory must pick
	// up the open block with its single transaction.
	reopened := openTestLedger(t, dir, keys)

	num, count := reopened.Status()
	if num != 1 || count != 1 {
		t.Fatalf("after reopen: want block 1 with 1 transaction, got block %d with %d", num, count)
	}
}

func TestChainAcrossMultipleBlocks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	// Two sealed blocks plus two transactions in the open third block.
	total := 2*BlockSize + 2
	for i := 0; i < total; i++ {
		rec := keys.signedRecord(t, "alice", "bob", float64(i+1))
		if err := l.Append("alice", "bob", float64(i+1), rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	blocks, err := Verify(dir, &keys.server.PublicKey, keys.resolve)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(blocks) != 3 {
		t.Fatalf("want 3 blocks, got %d", len(blocks))
	}
	if !blocks[0].Sealed() || !blocks[1].Sealed() || blocks[2].Sealed() {
		t.Fatalf("seal states wrong: %v %v %v",
			blocks[0].Sealed(), blocks[1].Sealed(), blocks[2].Sealed())
	}
	if blocks[2].Count != 2 {
		t.Fatalf("open block count: want 2, got %d", blocks[2].Count)
	}
}

func TestVerifyDetectsTamperedTransaction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	for i := 0; i < BlockSize; i++ {
		rec := keys.signedRecord(t, "alice", "bob", 1)
		if err := l.Append("alice", "bob", 1, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Flip one byte in the middle of the sealed block file.
	path := filepath.Join(dir, "block_1.blk")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read block file: %v", err)
	}
	raw[len(raw)/2] ^= 0x01
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write tampered block file: %v", err)
	}

	if _, err := Verify(dir, &keys.server.PublicKey, keys.resolve); err == nil {
		t.Fatalf("verify accepted a tampered block")
	}

	// Open must refuse to serve on the same evidence.
	if _, err := Open(dir, keys.server, &keys.server.PublicKey, keys.resolve); err == nil {
		t.Fatalf("open accepted a tampered chain")
	}
}

func TestVerifyDetectsForgedRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob", "mallory")
	l := openTestLedger(t, dir, keys)

	// mallory signs a payload but the description names alice as sender, so
	// re-verification resolves alice's key and must fail.
	rec := keys.signedRecord(t, "mallory", "bob", 5)
	if err := l.Append("alice", "bob", 5, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := Verify(dir, &keys.server.PublicKey, keys.resolve)
	if !errors.Is(err, ErrBadRecord) {
		t.Fatalf("want ErrBadRecord, got %v", err)
	}
}

func TestVerifyRejectsUnsealedBlockMidChain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	for i := 0; i < BlockSize+1; i++ {
		rec := keys.signedRecord(t, "alice", "bob", 1)
		if err := l.Append("alice", "bob", 1, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Strip the seal from block 1 while block 2 exists behind it.
	path := filepath.Join(dir, "block_1.blk")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read block file: %v", err)
	}

	b := new(Block)
	if err := b.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	b.Signature = nil
	if err := os.WriteFile(path, b.MarshalBinary(), 0o600); err != nil {
		t.Fatalf("write unsealed block: %v", err)
	}

	if _, err := Verify(dir, &keys.server.PublicKey, keys.resolve); err == nil {
		t.Fatalf("verify accepted an unsealed block mid-chain")
	}
}

func TestVerifyRejectsRenumberedBlock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keys := newTestKeys(t, "alice", "bob")
	l := openTestLedger(t, dir, keys)

	rec := keys.signedRecord(t, "alice", "bob", 1)
	if err := l.Append("alice", "bob", 1, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Rewrite the open block claiming a later position in the chain.
	path := filepath.Join(dir, "block_1.blk")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read block file: %v", err)
	}

	b := new(Block)
	if err := b.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	b.Num = 2
	if err := os.WriteFile(path, b.MarshalBinary(), 0o600); err != nil {
		t.Fatalf("write renumbered block: %v", err)
	}

	if _, err := Verify(dir, &keys.server.PublicKey, keys.resolve); !errors.Is(err, ErrBadBlockNumber) {
		t.Fatalf("want ErrBadBlockNumber, got %v", err)
	}
}

func TestVerifyEmptyDirectory(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)

	blocks, err := Verify(t.TempDir(), &keys.server.PublicKey, keys.resolve)
	if err != nil {
		t.Fatalf("verify empty dir: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("want no blocks, got %d", len(blocks))
	}
}

func TestBlockEncodingRoundTrip(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t, "alice")

	b := NewBlock(4, [HashSize]byte{1, 2, 3})
	b.Transactions = []string{"alice sent 1.00€ to bob"}
	b.Records = []SignedRecord{keys.signedRecord(t, "alice", "bob", 1)}
	b.Count = 1

	if err := b.Sign(keys.server); err != nil {
		t.Fatalf("sign: %v", err)
	}

	decoded := new(Block)
	if err := decoded.UnmarshalBinary(b.MarshalBinary()); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Num != 4 || decoded.Count != 1 || !decoded.Sealed() {
		t.Fatalf("decoded header mismatch: %+v", decoded)
	}
	if decoded.Hash() != b.Hash() {
		t.Fatalf("hash changed across encode/decode")
	}
	if err := decoded.VerifySignature(&keys.server.PublicKey); err != nil {
		t.Fatalf("decoded signature invalid: %v", err)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	t.Parallel()

	b := NewBlock(1, [HashSize]byte{})
	raw := append(b.MarshalBinary(), 0x00)

	if err := new(Block).UnmarshalBinary(raw); err == nil {
		t.Fatalf("accepted trailing bytes")
	}
}
