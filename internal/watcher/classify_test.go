package watcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

const (
	signer     = "Signer1111111111111111111111111111111111111"
	obligation = "Obligation11111111111111111111111111111111"
	usdcMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	solMint    = "So11111111111111111111111111111111111111112"
)

func balance(owner, mint, amount string, decimals int32) solana.TokenBalance {
	return solana.TokenBalance{
		Mint:          mint,
		Owner:         owner,
		UITokenAmount: solana.UITokenAmount{Amount: amount, Decimals: decimals},
	}
}

func liquidationTx() *solana.TransactionDetail {
	bt := int64(1760000000)
	tx := &solana.TransactionDetail{
		Slot:      300,
		BlockTime: &bt,
		Meta: &solana.TransactionMeta{
			Err: json.RawMessage("null"),
			LogMessages: []string{
				"Program log: Instruction: Refresh Obligation",
				"Program log: Instruction: Liquidate Obligation and Redeem Reserve Collateral",
			},
			PreTokenBalances: []solana.TokenBalance{
				balance(signer, usdcMint, "150000000", 6),
				balance(signer, solMint, "0", 9),
				balance("someone", usdcMint, "1", 6),
			},
			PostTokenBalances: []solana.TokenBalance{
				balance(signer, usdcMint, "50000000", 6),
				balance(signer, solMint, "2500000000", 9),
				balance("someone", usdcMint, "9", 6),
			},
		},
	}
	tx.Transaction.Message.AccountKeys = []string{signer, "Reserve1", obligation}
	return tx
}

func TestClassifyLiquidation(t *testing.T) {
	act := Classify("sig", liquidationTx(), map[string]bool{obligation: true}, map[string]string{usdcMint: "USDC"})

	assert.Equal(t, domain.ActionLiquidate, act.Action)
	assert.Equal(t, signer, act.Signer)
	assert.Equal(t, obligation, act.Position)
	assert.Equal(t, uint64(300), act.Slot)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), act.BlockTime)
	assert.Empty(t, act.Error)

	require.Len(t, act.Transfers, 2)
	assert.Equal(t, "USDC", act.Transfers[0].Symbol)
	assert.True(t, act.Transfers[0].Change.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, solMint, act.Transfers[1].Mint)
	assert.Empty(t, act.Transfers[1].Symbol)
	assert.True(t, act.Transfers[1].Change.Equal(decimal.RequireFromString("-2.5")))
}

func TestClassifyLastActionWins(t *testing.T) {
	tx := liquidationTx()
	tx.Meta.LogMessages = append(tx.Meta.LogMessages, "Program log: Instruction: Repay Obligation Liquidity")

	assert.Equal(t, domain.ActionRepay, Classify("sig", tx, nil, nil).Action)
}

func TestClassifyUnknownAndNoPosition(t *testing.T) {
	tx := liquidationTx()
	tx.Meta.LogMessages = []string{"Program log: something else"}

	act := Classify("sig", tx, nil, nil)
	assert.Equal(t, domain.ActionUnknown, act.Action)
	assert.Empty(t, act.Position)
}

func TestClassifyStaleOracle(t *testing.T) {
	tx := liquidationTx()
	tx.Meta.Err = json.RawMessage(`{"InstructionError":[0,{"Custom":6}]}`)
	tx.Meta.LogMessages = []string{
		"Program log: Instruction: Borrow Obligation Liquidity",
		"Program log: Switchboard oracle price is stale",
	}

	act := Classify("sig", tx, nil, nil)
	assert.Equal(t, domain.ActionBorrow, act.Action)
	assert.Equal(t, "stale oracle", act.Error)
}

func TestClassifyFailedTransaction(t *testing.T) {
	tx := liquidationTx()
	tx.Meta.Err = json.RawMessage(`{"InstructionError":[0,{"Custom":6}]}`)

	assert.JSONEq(t, `{"InstructionError":[0,{"Custom":6}]}`, Classify("sig", tx, nil, nil).Error)
}

func TestClassifyWithoutMeta(t *testing.T) {
	tx := liquidationTx()
	tx.Meta = nil

	act := Classify("sig", tx, nil, nil)
	assert.Equal(t, domain.ActionUnknown, act.Action)
	assert.Empty(t, act.Transfers)
}

func TestDedupExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.True(t, d.first("a"))
	assert.False(t, d.first("a"))
	assert.True(t, d.first("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.first("a"))
}
