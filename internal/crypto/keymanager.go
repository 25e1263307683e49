// Package crypto stores the operator keypair at rest and resolves it from
// configuration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	seedLen          = 32
	currentVersion   = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted keypair seed.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"` // base58, informational
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information LoadKeypair needs to resolve the
// operator key. The first non-empty source wins, in field order.
type KeyConfig struct {
	// SecretKey is a base58 64-byte secret key or 32-byte seed.
	SecretKey string

	// KeypairPath is a CLI key file: a JSON array of 64 bytes.
	KeypairPath string

	// EncryptedKeyPath is a file produced by EncryptKeypair.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKeypair encrypts the keypair seed with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM, returning the JSON blob
// to write to disk.
func EncryptKeypair(kp *solana.Keypair, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedKeyJSON{
		Version:    currentVersion,
		PublicKey:  kp.PublicKey().String(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, kp.Seed(), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKeypair reverses EncryptKeypair.
func DecryptKeypair(encryptedJSON []byte, password string) (*solana.Keypair, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	if len(seed) != seedLen {
		return nil, fmt.Errorf("crypto: expected %d-byte seed, got %d bytes", seedLen, len(seed))
	}

	kp, err := solana.KeypairFromBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	if stored.PublicKey != "" && kp.PublicKey().String() != stored.PublicKey {
		return nil, fmt.Errorf("crypto: decrypted key does not match public key %s", stored.PublicKey)
	}
	return kp, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKeypair resolves the operator keypair from cfg.
func LoadKeypair(cfg KeyConfig) (*solana.Keypair, error) {
	switch {
	case cfg.SecretKey != "":
		raw := base58.Decode(strings.TrimSpace(cfg.SecretKey))
		if len(raw) == 0 {
			return nil, errors.New("crypto: secret key is not valid base58")
		}
		kp, err := solana.KeypairFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("crypto: %w", err)
		}
		return kp, nil

	case cfg.KeypairPath != "":
		kp, err := solana.LoadKeypairFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: %w", err)
		}
		return kp, nil

	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKeypair(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no key source configured (set secret_key, keypair_path or encrypted_key_path)")
}
