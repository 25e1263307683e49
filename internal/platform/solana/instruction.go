package solana

import (
	"encoding/binary"
	"fmt"
)

// AccountMeta is one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Writable returns a writable, non-signer account.
func Writable(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk, IsWritable: true}
}

// Readonly returns a read-only, non-signer account.
func Readonly(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per compute
// unit. It must be the first instruction of the transaction.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitLimit caps the compute units the transaction may use.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// CreateAssociatedTokenAccountIdempotent creates owner's token account for
// mint, succeeding without effect if it already exists. It returns the
// instruction and the account address.
func CreateAssociatedTokenAccountIdempotent(payer, owner, mint PublicKey) (Instruction, PublicKey, error) {
	ata, err := FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return Instruction{}, PublicKey{}, fmt.Errorf("solana: create token account: %w", err)
	}
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			Writable(ata),
			Readonly(owner),
			Readonly(mint),
			Readonly(SystemProgramID),
			Readonly(TokenProgramID),
		},
		Data: []byte{1},
	}, ata, nil
}
