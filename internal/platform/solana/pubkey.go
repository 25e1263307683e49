package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/base58"
)

// PublicKey is a 32-byte ed25519 public key or program-derived address.
type PublicKey [32]byte

// Well-known program and sysvar addresses.
var (
	SystemProgramID          = MustPublicKey("11111111111111111111111111111111")
	TokenProgramID           = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	ComputeBudgetProgramID   = MustPublicKey("ComputeBudget111111111111111111111111111111")
	SysvarClockID            = MustPublicKey("SysvarC1ock11111111111111111111111111111111")
	LendingProgramID         = MustPublicKey("So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo")
)

var errOnCurve = errors.New("solana: address is on the ed25519 curve")

// PublicKeyFromBase58 parses a base58-encoded address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	b := base58.Decode(s)
	if len(b) != len(pk) {
		return pk, fmt.Errorf("solana: invalid public key %q", s)
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPublicKey is PublicKeyFromBase58 that panics on error. Use only for
// compile-time constants.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the all-zero key.
func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PublicKey) UnmarshalText(b []byte) error {
	pk, err := PublicKeyFromBase58(string(b))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// CreateProgramAddress derives an address from seeds that has no private key.
// It fails if the derived point lies on the curve.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > 32 {
			return PublicKey{}, fmt.Errorf("solana: seed longer than 32 bytes")
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte("ProgramDerivedAddress"))

	var pk PublicKey
	copy(pk[:], h.Sum(nil))
	if isOnCurve(pk) {
		return PublicKey{}, errOnCurve
	}
	return pk, nil
}

// FindProgramAddress searches bump seeds from 255 down for the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		pk, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return pk, uint8(bump), nil
		}
		if !errors.Is(err, errOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, fmt.Errorf("solana: no viable bump seed")
}

// FindAssociatedTokenAddress returns the canonical token account for owner
// and mint.
func FindAssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	pk, _, err := FindProgramAddress(
		[][]byte{owner[:], TokenProgramID[:], mint[:]},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return PublicKey{}, fmt.Errorf("solana: associated token address: %w", err)
	}
	return pk, nil
}

func isOnCurve(pk PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// Hash is a recent blockhash.
type Hash [32]byte

// HashFromBase58 parses a base58-encoded blockhash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	b := base58.Decode(s)
	if len(b) != len(h) {
		return h, fmt.Errorf("solana: invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Signature is an ed25519 transaction signature. The first signature of a
// transaction is its identifier.
type Signature [64]byte

// SignatureFromBase58 parses a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	b := base58.Decode(s)
	if len(b) != len(sig) {
		return sig, fmt.Errorf("solana: invalid signature %q", s)
	}
	copy(sig[:], b)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports whether s is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Bytes returns a copy of the key.
func (p PublicKey) Bytes() []byte {
	return append([]byte(nil), p[:]...)
}
