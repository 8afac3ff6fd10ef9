package ledger

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the number of transactions that seals a block.
const BlockSize = 5

// HashSize is the size of the chain-link hash (SHA-256).
const HashSize = sha256.Size

// SignedRecord is one transaction's client-signed evidence: the payload is
// the canonical "receiver-amount" string, the signature is RSA/SHA-256 over
// it, produced with the sending user's private key.
type SignedRecord struct {
	Payload   []byte
	Signature []byte
}

// Verify checks the record's signature against the sender's public key.
func (r SignedRecord) Verify(pub *rsa.PublicKey) error {
	digest := sha256.Sum256(r.Payload)

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], r.Signature); err != nil {
		return fmt.Errorf("verify record signature: %w", err)
	}

	return nil
}

// Block is one batch of ledger transactions. PrevHash chains it to the hash
// of the preceding block's full encoded bytes (all zeros for block 1). The
// block is sealed exactly when it holds BlockSize transactions, at which
// point Signature carries the server's RSA/SHA-256 signature over the
// canonical block data.
type Block struct {
	PrevHash     [HashSize]byte
	Num          uint64
	Count        uint64
	Transactions []string
	Records      []SignedRecord
	Signature    []byte
}

func NewBlock(num uint64, prevHash [HashSize]byte) *Block {
	return &Block{
		PrevHash: prevHash,
		Num:      num,
	}
}

// Sealed reports whether the block carries a server signature; this is only
// ever true for a block holding exactly BlockSize transactions.
func (b *Block) Sealed() bool {
	return len(b.Signature) > 0
}

// signingBytes is the canonical encoding of everything the server signature
// covers: chain hash, block number, transaction count and every transaction
// with its signed record, each unambiguously length-framed.
func (b *Block) signingBytes() []byte {
	var buf bytes.Buffer

	buf.Write(b.PrevHash[:])
	writeUint64(&buf, b.Num)
	writeUint64(&buf, b.Count)

	writeUint32(&buf, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		writeChunk(&buf, []byte(tx))
	}

	writeUint32(&buf, uint32(len(b.Records)))
	for _, rec := range b.Records {
		writeChunk(&buf, rec.Payload)
		writeChunk(&buf, rec.Signature)
	}

	return buf.Bytes()
}

// MarshalBinary returns the full on-disk encoding: the canonical block data
// followed by the length-framed server signature (empty while unsealed).
func (b *Block) MarshalBinary() []byte {
	var buf bytes.Buffer

	buf.Write(b.signingBytes())
	writeChunk(&buf, b.Signature)

	return buf.Bytes()
}

func (b *Block) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	if _, err := io.ReadFull(r, b.PrevHash[:]); err != nil {
		return fmt.Errorf("read prev hash: %w", err)
	}

	var err error
	if b.Num, err = readUint64(r); err != nil {
		return fmt.Errorf("read block number: %w", err)
	}
	if b.Count, err = readUint64(r); err != nil {
		return fmt.Errorf("read transaction count: %w", err)
	}

	txCount, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read transaction list length: %w", err)
	}

	b.Transactions = make([]string, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		chunk, err := readChunk(r)
		if err != nil {
			return fmt.Errorf("read transaction %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, string(chunk))
	}

	recCount, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read record list length: %w", err)
	}

	b.Records = make([]SignedRecord, 0, recCount)
	for i := uint32(0); i < recCount; i++ {
		payload, err := readChunk(r)
		if err != nil {
			return fmt.Errorf("read record payload %d: %w", i, err)
		}

		sig, err := readChunk(r)
		if err != nil {
			return fmt.Errorf("read record signature %d: %w", i, err)
		}

		b.Records = append(b.Records, SignedRecord{Payload: payload, Signature: sig})
	}

	if b.Signature, err = readChunk(r); err != nil {
		return fmt.Errorf("read block signature: %w", err)
	}
	if len(b.Signature) == 0 {
		b.Signature = nil
	}

	if r.Len() != 0 {
		return errors.New("trailing bytes after block encoding")
	}

	return nil
}

// Hash is the chain-link digest: SHA-256 over the full encoded block,
// signature included. The next block stores it as PrevHash.
func (b *Block) Hash() [HashSize]byte {
	return sha256.Sum256(b.MarshalBinary())
}

// Sign seals the block with the server's long-term signing key.
func (b *Block) Sign(key *rsa.PrivateKey) error {
	digest := sha256.Sum256(b.signingBytes())

	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}

	b.Signature = sig

	return nil
}

// VerifySignature checks the seal against the server's public key.
func (b *Block) VerifySignature(pub *rsa.PublicKey) error {
	digest := sha256.Sum256(b.signingBytes())

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], b.Signature); err != nil {
		return fmt.Errorf("verify block signature: %w", err)
	}

	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeChunk(buf *bytes.Buffer, p []byte) {
	writeUint32(buf, uint32(len(p)))
	buf.Write(p)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	if int(n) > r.Len() {
		return nil, fmt.Errorf("chunk length %d exceeds remaining %d bytes", n, r.Len())
	}

	chunk := make([]byte, n)
	if _, err := io.ReadFull(r, chunk); err != nil {
		return nil, err
	}

	return chunk, nil
}
