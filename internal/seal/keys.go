package seal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const keySize = 32

// Keypair is the gateway's X25519 sealing keypair. Counterparties seal
// symmetric key material under Public; Private unseals material clients
// pre-sealed toward the gateway.
type Keypair struct {
	Public  [keySize]byte
	Private [keySize]byte
}

// GenerateKeypair creates a fresh X25519 keypair. Used in development and
// tests; production deployments load a provisioned keypair from config.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate sealing keypair: %w", err)
	}
	return Keypair{Public: *pub, Private: *priv}, nil
}

// ParseKeypair decodes a base64 raw keypair from configuration. Either both
// parts must be present or neither.
func ParseKeypair(publicB64, privateB64 string) (Keypair, error) {
	if publicB64 == "" && privateB64 == "" {
		return GenerateKeypair()
	}
	pub, err := parseKey(publicB64)
	if err != nil {
		return Keypair{}, fmt.Errorf("sealing public key: %w", err)
	}
	priv, err := parseKey(privateB64)
	if err != nil {
		return Keypair{}, fmt.Errorf("sealing private key: %w", err)
	}
	return Keypair{Public: pub, Private: priv}, nil
}

func parseKey(b64 string) ([keySize]byte, error) {
	var key [keySize]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return key, fmt.Errorf("not base64: %w", err)
	}
	if len(raw) != keySize {
		return key, fmt.Errorf("want %d bytes, got %d", keySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func asKey(raw []byte) ([keySize]byte, bool) {
	var key [keySize]byte
	if len(raw) != keySize {
		return key, false
	}
	copy(key[:], raw)
	return key, true
}
