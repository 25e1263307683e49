package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
)

// Signer produces ed25519 signatures for a single account.
type Signer interface {
	PublicKey() PublicKey
	Sign(message []byte) (Signature, error)
}

// Keypair is an in-memory ed25519 key.
type Keypair struct {
	priv ed25519.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("solana: generate key: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromBytes accepts either a 32-byte seed or a 64-byte seed||pubkey
// secret key.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return &Keypair{priv: ed25519.NewKeyFromSeed(b)}, nil
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if string(priv[ed25519.SeedSize:]) != string(b[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("solana: secret key public half does not match seed")
		}
		return &Keypair{priv: priv}, nil
	default:
		return nil, fmt.Errorf("solana: secret key must be 32 or 64 bytes, got %d", len(b))
	}
}

// KeypairFromJSON parses the CLI key file format: a JSON array of bytes.
func KeypairFromJSON(data []byte) (*Keypair, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("solana: parse key file: %w", err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("solana: key file byte %d out of range", i)
		}
		raw[i] = byte(v)
	}
	return KeypairFromBytes(raw)
}

// LoadKeypairFile reads a CLI key file from disk.
func LoadKeypairFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("solana: read key file: %w", err)
	}
	return KeypairFromJSON(data)
}

func (k *Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

func (k *Keypair) Sign(message []byte) (Signature, error) {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig, nil
}

// Seed returns the 32-byte private seed.
func (k *Keypair) Seed() []byte {
	return k.priv.Seed()
}

// Verify checks sig against message for pk.
func Verify(pk PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pk[:], message, sig[:])
}
