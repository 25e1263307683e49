package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivityAction classifies a lending-program transaction.
type ActivityAction string

const (
	ActionCreate     ActivityAction = "create"
	ActionDeposit    ActivityAction = "deposit"
	ActionWithdraw   ActivityAction = "withdraw"
	ActionBorrow     ActivityAction = "borrow"
	ActionRepay      ActivityAction = "repay"
	ActionLiquidate  ActivityAction = "liquidate"
	ActionRedeemFees ActivityAction = "redeem_fees"
	ActionUnknown    ActivityAction = "unknown"
)

// TokenTransfer is a net token balance change for the transaction signer.
// Change is pre minus post, so a positive value left the signer's wallet.
type TokenTransfer struct {
	Mint   string          `json:"mint"`
	Symbol string          `json:"symbol,omitempty"`
	Change decimal.Decimal `json:"change"`
}

// Activity is one observed lending-program transaction.
type Activity struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Action    ActivityAction  `json:"action"`
	Signer    string          `json:"signer"`
	Position  string          `json:"position,omitempty"`
	Error     string          `json:"error,omitempty"`
	Transfers []TokenTransfer `json:"transfers"`
	BlockTime time.Time       `json:"block_time"`
}
