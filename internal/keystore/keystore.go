// Package keystore manages the server's long-term identity: an RSA key pair
// with a self-signed X.509 certificate, stored as a single PEM file. The
// certificate travels in a plain CERTIFICATE block; the private key is
// sealed with the keystore password, with the key-derivation salt and nonce
// carried in the PEM block headers. The same identity backs the TLS listener
// and the ledger block signatures.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/fastprodman/moneyexchange/pkg/sealbox"
)

const (
	certBlockType = "CERTIFICATE"
	keyBlockType  = "SEALED RSA PRIVATE KEY"

	saltHeader  = "KDF-Salt"
	nonceHeader = "Nonce"

	keyBits      = 2048
	certValidFor = 10 * 365 * 24 * time.Hour
)

var (
	ErrMalformedKeystore = errors.New("malformed keystore file")
	ErrNotRSA            = errors.New("certificate does not carry an RSA public key")
)

// Identity is a loaded server identity.
type Identity struct {
	Cert       *x509.Certificate
	CertDER    []byte
	PrivateKey *rsa.PrivateKey
}

// Generate creates a fresh RSA identity with a self-signed certificate.
func Generate(commonName string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(certValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}

	return &Identity{Cert: cert, CertDER: der, PrivateKey: key}, nil
}

// Save writes the identity to path, sealing the private key under password.
func (id *Identity) Save(path, password string) error {
	sealed, params, err := sealbox.Seal(password, x509.MarshalPKCS1PrivateKey(id.PrivateKey))
	if err != nil {
		return fmt.Errorf("seal private key: %w", err)
	}

	out := pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: id.CertDER})
	out = append(out, pem.EncodeToMemory(&pem.Block{
		Type: keyBlockType,
		Headers: map[string]string{
			saltHeader:  hex.EncodeToString(params.Salt),
			nonceHeader: hex.EncodeToString(params.Nonce),
		},
		Bytes: sealed,
	})...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write keystore file: %w", err)
	}

	return nil
}

// Load reads an identity from path, unsealing the private key with password.
func Load(path, password string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}

	id := new(Identity)

	for len(raw) > 0 {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}

		switch block.Type {
		case certBlockType:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			id.Cert = cert
			id.CertDER = block.Bytes

		case keyBlockType:
			key, err := unsealKey(block, password)
			if err != nil {
				return nil, err
			}
			id.PrivateKey = key
		}
	}

	if id.Cert == nil || id.PrivateKey == nil {
		return nil, ErrMalformedKeystore
	}

	if _, ok := id.Cert.PublicKey.(*rsa.PublicKey); !ok {
		return nil, ErrNotRSA
	}

	return id, nil
}

func unsealKey(block *pem.Block, password string) (*rsa.PrivateKey, error) {
	salt, err := hex.DecodeString(block.Headers[saltHeader])
	if err != nil {
		return nil, fmt.Errorf("decode salt header: %w", err)
	}

	nonce, err := hex.DecodeString(block.Headers[nonceHeader])
	if err != nil {
		return nil, fmt.Errorf("decode nonce header: %w", err)
	}

	der, err := sealbox.Open(password, block.Bytes, sealbox.Params{Salt: salt, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("unseal private key: %w", err)
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return key, nil
}

// Public returns the identity's RSA public key.
func (id *Identity) Public() *rsa.PublicKey {
	return &id.PrivateKey.PublicKey
}

// TLSCertificate adapts the identity for use by a TLS listener.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.CertDER},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Cert,
	}
}
