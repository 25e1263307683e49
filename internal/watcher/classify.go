package watcher

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// actionLogs maps lending-program log lines to the action they announce.
var actionLogs = map[string]domain.ActivityAction{
	"Program log: Create": domain.ActionCreate,
	"Program log: Instruction: Liquidate Obligation and Redeem Reserve Collateral":           domain.ActionLiquidate,
	"Program log: Instruction: RedeemFees":                                                   domain.ActionRedeemFees,
	"Program log: Instruction: Withdraw Obligation Collateral and Redeem Reserve Collateral": domain.ActionWithdraw,
	"Program log: Instruction: Deposit Reserve Liquidity and Obligation Collateral":          domain.ActionDeposit,
	"Program log: Instruction: Repay Obligation Liquidity":                                   domain.ActionRepay,
	"Program log: Instruction: Borrow Obligation Liquidity":                                  domain.ActionBorrow,
}

// errorLogs maps known failure log lines to a short reason.
var errorLogs = map[string]string{
	"Program log: Switchboard oracle price is stale": "stale oracle",
}

// Classify turns a landed transaction into an Activity. The action is taken
// from the last recognised log line. Transfers are the signer's net token
// balance changes, pre minus post. obligations is the set of known position
// addresses and symbols maps mints to display names; both may be nil.
func Classify(sig string, tx *solana.TransactionDetail, obligations map[string]bool, symbols map[string]string) domain.Activity {
	act := domain.Activity{Signature: sig, Slot: tx.Slot, Action: domain.ActionUnknown}
	if tx.BlockTime != nil {
		act.BlockTime = time.Unix(*tx.BlockTime, 0).UTC()
	}

	keys := tx.Transaction.Message.AccountKeys
	if len(keys) > 0 {
		act.Signer = keys[0]
	}
	for _, k := range keys {
		if obligations[k] {
			act.Position = k
			break
		}
	}

	if tx.Meta == nil {
		return act
	}
	for _, line := range tx.Meta.LogMessages {
		line = strings.TrimSpace(line)
		if a, ok := actionLogs[line]; ok {
			act.Action = a
		}
		if reason, ok := errorLogs[line]; ok {
			act.Error = reason
		}
	}
	if act.Error == "" && tx.Meta.Failed() {
		act.Error = string(tx.Meta.Err)
	}
	act.Transfers = transfers(act.Signer, tx.Meta, symbols)
	return act
}

func transfers(owner string, meta *solana.TransactionMeta, symbols map[string]string) []domain.TokenTransfer {
	var order []string
	change := make(map[string]decimal.Decimal)
	add := func(mint string, amount decimal.Decimal) {
		if _, ok := change[mint]; !ok {
			order = append(order, mint)
		}
		change[mint] = change[mint].Add(amount)
	}

	for _, b := range meta.PreTokenBalances {
		if b.Owner == owner {
			add(b.Mint, uiAmount(b.UITokenAmount))
		}
	}
	for _, b := range meta.PostTokenBalances {
		if b.Owner == owner {
			add(b.Mint, uiAmount(b.UITokenAmount).Neg())
		}
	}

	out := make([]domain.TokenTransfer, 0, len(order))
	for _, mint := range order {
		if c := change[mint]; !c.IsZero() {
			out = append(out, domain.TokenTransfer{Mint: mint, Symbol: symbols[mint], Change: c})
		}
	}
	return out
}

func uiAmount(a solana.UITokenAmount) decimal.Decimal {
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero
	}
	return raw.Shift(-a.Decimals)
}
