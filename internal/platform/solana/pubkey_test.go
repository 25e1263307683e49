package solana

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyBase58(t *testing.T) {
	assert.True(t, SystemProgramID.IsZero())
	assert.Equal(t, "11111111111111111111111111111111", SystemProgramID.String())

	pk, err := PublicKeyFromBase58(TokenProgramID.String())
	require.NoError(t, err)
	assert.Equal(t, TokenProgramID, pk)

	_, err = PublicKeyFromBase58("not-a-key")
	assert.Error(t, err)
}

func TestPublicKeyText(t *testing.T) {
	var pk PublicKey
	require.NoError(t, pk.UnmarshalText([]byte(LendingProgramID.String())))
	assert.Equal(t, LendingProgramID, pk)

	b, err := pk.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, LendingProgramID.String(), string(b))
}

func TestFindProgramAddressOffCurve(t *testing.T) {
	kp, err := NewKeypair()
	require.NoError(t, err)

	seeds := [][]byte{kp.PublicKey().Bytes(), []byte("seed")}
	pda, bump, err := FindProgramAddress(seeds, LendingProgramID)
	require.NoError(t, err)
	assert.False(t, isOnCurve(pda))

	again, err := CreateProgramAddress(append(seeds, []byte{bump}), LendingProgramID)
	require.NoError(t, err)
	assert.Equal(t, pda, again)
}

func TestAssociatedTokenAddressDeterministic(t *testing.T) {
	owner, err := NewKeypair()
	require.NoError(t, err)
	mint, err := NewKeypair()
	require.NoError(t, err)

	a, err := FindAssociatedTokenAddress(owner.PublicKey(), mint.PublicKey())
	require.NoError(t, err)
	b, err := FindAssociatedTokenAddress(owner.PublicKey(), mint.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, owner.PublicKey(), a)
	assert.False(t, isOnCurve(a))
}

func TestCreateProgramAddressRejectsLongSeed(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, LendingProgramID)
	assert.Error(t, err)
}

func TestKeyIsOnCurve(t *testing.T) {
	kp, err := NewKeypair()
	require.NoError(t, err)
	assert.True(t, isOnCurve(kp.PublicKey()))
}

func TestKeypairFromJSON(t *testing.T) {
	kp, err := NewKeypair()
	require.NoError(t, err)

	secret := append(kp.Seed(), kp.PublicKey().Bytes()...)
	parts := make([]string, len(secret))
	for i, b := range secret {
		parts[i] = strconv.Itoa(int(b))
	}
	js := "[" + strings.Join(parts, ",") + "]"

	loaded, err := KeypairFromJSON([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())

	sig, err := loaded.Sign([]byte("hello"))
	require.NoError(t, err)
	assert.True(t, Verify(kp.PublicKey(), []byte("hello"), sig))
}

func TestKeypairFromBytesMismatch(t *testing.T) {
	kp, err := NewKeypair()
	require.NoError(t, err)
	secret := append(kp.Seed(), make([]byte, 32)...)
	_, err = KeypairFromBytes(secret)
	assert.Error(t, err)

	_, err = KeypairFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}
