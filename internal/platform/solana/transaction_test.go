package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactU16(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x01}},
		{0x3fff, []byte{0xff, 0x7f}},
		{0x4000, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range cases {
		got := appendCompactU16(nil, tc.n)
		assert.Equal(t, tc.want, got, "encode %d", tc.n)

		n, off, err := readCompactU16(got, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.n, n)
		assert.Equal(t, len(got), off)
	}
}

func newKey(t *testing.T) PublicKey {
	t.Helper()
	kp, err := NewKeypair()
	require.NoError(t, err)
	return kp.PublicKey()
}

func TestNewMessageOrdersAccounts(t *testing.T) {
	payer := newKey(t)
	writable := newKey(t)
	readonly := newKey(t)
	program := newKey(t)

	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			Readonly(readonly),
			Writable(writable),
			{PublicKey: payer, IsSigner: true},
		},
		Data: []byte{9},
	}
	msg, err := NewMessage(payer, []Instruction{SetComputeUnitPrice(100), ix}, Hash{1})
	require.NoError(t, err)

	require.Len(t, msg.AccountKeys, 5)
	assert.Equal(t, payer, msg.AccountKeys[0])
	assert.Equal(t, writable, msg.AccountKeys[1])
	// Read-only unsigned accounts keep first-seen order.
	assert.Equal(t, ComputeBudgetProgramID, msg.AccountKeys[2])
	assert.Equal(t, readonly, msg.AccountKeys[3])
	assert.Equal(t, program, msg.AccountKeys[4])

	assert.Equal(t, MessageHeader{
		NumRequiredSignatures:       1,
		NumReadonlySignedAccounts:   0,
		NumReadonlyUnsignedAccounts: 3,
	}, msg.Header)

	require.Len(t, msg.Instructions, 2)
	assert.Equal(t, uint8(2), msg.Instructions[0].ProgramIDIndex)
	assert.Empty(t, msg.Instructions[0].Accounts)
	assert.Equal(t, uint8(4), msg.Instructions[1].ProgramIDIndex)
	assert.Equal(t, []uint8{3, 1, 0}, msg.Instructions[1].Accounts)
}

func TestTransactionSignAndParse(t *testing.T) {
	payer, err := NewKeypair()
	require.NoError(t, err)
	dest := newKey(t)

	ix := Instruction{ProgramID: SystemProgramID, Accounts: []AccountMeta{Writable(dest)}, Data: []byte{2, 0, 0, 0}}
	tx, err := NewTransaction(payer.PublicKey(), []Instruction{ix}, Hash{7})
	require.NoError(t, err)

	_, err = tx.Serialize()
	assert.Error(t, err, "unsigned transaction must not serialize")

	require.NoError(t, tx.Sign(payer))
	assert.True(t, Verify(payer.PublicKey(), tx.Message.Serialize(), tx.Signature()))

	wire, err := tx.Serialize()
	require.NoError(t, err)

	raw, err := ParseRawTransaction(wire)
	require.NoError(t, err)
	assert.Equal(t, Hash{7}, raw.RecentBlockhash())
	assert.Equal(t, payer.PublicKey(), raw.FeePayer())
	assert.Equal(t, tx.Signature(), raw.Signature())

	raw.SetRecentBlockhash(Hash{8})
	assert.True(t, raw.Signature().IsZero())
	require.NoError(t, raw.Sign(payer))

	out, err := raw.Serialize()
	require.NoError(t, err)
	reparsed, err := ParseRawTransaction(out)
	require.NoError(t, err)
	assert.Equal(t, Hash{8}, reparsed.RecentBlockhash())
	assert.True(t, Verify(payer.PublicKey(), reparsed.message, reparsed.Signature()))
}

func TestSignMissingSigner(t *testing.T) {
	payer := newKey(t)
	other, err := NewKeypair()
	require.NoError(t, err)

	tx, err := NewTransaction(payer, []Instruction{SetComputeUnitPrice(1)}, Hash{})
	require.NoError(t, err)
	assert.Error(t, tx.Sign(other))
}

func TestParseRawTransactionVersioned(t *testing.T) {
	payer, err := NewKeypair()
	require.NoError(t, err)
	tx, err := NewTransaction(payer.PublicKey(), []Instruction{SetComputeUnitLimit(200_000)}, Hash{3})
	require.NoError(t, err)

	// A v0 message is the legacy layout behind a 0x80 prefix, followed by an
	// empty address-table-lookup section.
	msg := append([]byte{0x80}, tx.Message.Serialize()...)
	msg = append(msg, 0)
	wire := append(appendCompactU16(nil, 1), make([]byte, 64)...)
	wire = append(wire, msg...)

	raw, err := ParseRawTransaction(wire)
	require.NoError(t, err)
	assert.Equal(t, Hash{3}, raw.RecentBlockhash())

	require.NoError(t, raw.Sign(payer))
	assert.True(t, Verify(payer.PublicKey(), msg, raw.Signature()))
}

func TestParseRawTransactionTruncated(t *testing.T) {
	_, err := ParseRawTransaction([]byte{1, 0, 0})
	assert.Error(t, err)
	_, err = ParseRawTransaction(nil)
	assert.Error(t, err)
}

func TestComputeBudgetData(t *testing.T) {
	ix := SetComputeUnitPrice(100)
	assert.Equal(t, ComputeBudgetProgramID, ix.ProgramID)
	assert.Equal(t, []byte{3, 100, 0, 0, 0, 0, 0, 0, 0}, ix.Data)

	ix = SetComputeUnitLimit(0x010203)
	assert.Equal(t, []byte{2, 3, 2, 1, 0}, ix.Data)
}

func TestCreateAssociatedTokenAccountIdempotent(t *testing.T) {
	payer := newKey(t)
	mint := newKey(t)
	ix, ata, err := CreateAssociatedTokenAccountIdempotent(payer, payer, mint)
	require.NoError(t, err)

	want, err := FindAssociatedTokenAddress(payer, mint)
	require.NoError(t, err)
	assert.Equal(t, want, ata)
	assert.Equal(t, []byte{1}, ix.Data)
	require.Len(t, ix.Accounts, 6)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, ata, ix.Accounts[1].PublicKey)
	assert.True(t, ix.Accounts[1].IsWritable)
}
