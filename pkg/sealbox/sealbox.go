// Package sealbox implements password-based authenticated encryption for
// data at rest. The key is derived with PBKDF2-SHA256 and the payload is
// sealed with AES-256-GCM. Salt and nonce are public and travel alongside
// the ciphertext as Params, so they can live in a companion parameter file.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 16384
)

var ErrDecrypt = errors.New("cannot decrypt: wrong password or corrupted data")

// Params is the public key-derivation and cipher material for one sealed
// payload. It must be stored with the ciphertext and presented unchanged
// on Open.
type Params struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
}

// Seal encrypts plaintext under a key derived from password. Fresh salt and
// nonce are drawn for every call.
func Seal(password string, plaintext []byte) ([]byte, Params, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, Params{}, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, Params{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, Params{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, Params{Salt: salt, Nonce: nonce}, nil
}

// Open decrypts a payload produced by Seal. A wrong password and tampered
// ciphertext are indistinguishable; both return ErrDecrypt.
func Open(password string, ciphertext []byte, params Params) ([]byte, error) {
	gcm, err := newGCM(password, params.Salt)
	if err != nil {
		return nil, err
	}

	if len(params.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d: %w", len(params.Nonce), ErrDecrypt)
	}

	plaintext, err := gcm.Open(nil, params.Nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	return gcm, nil
}
