package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

const (
	pythMagic          = 0xa1b2c3d4
	pythPriceType      = 3
	pythStatusTrading  = 1
	pythExponentOffset = 20
	pythAggOffset      = 208
	pythMinSize        = pythAggOffset + 32
)

// PythPrice is the aggregate price of a legacy push-oracle price account.
type PythPrice struct {
	Price      decimal.Decimal
	Confidence decimal.Decimal
	Trading    bool
	PubSlot    uint64
}

// IsPythPriceAccount reports whether data looks like a price account.
func IsPythPriceAccount(data []byte) bool {
	return len(data) >= pythMinSize &&
		binary.LittleEndian.Uint32(data[0:]) == pythMagic &&
		binary.LittleEndian.Uint32(data[8:]) == pythPriceType
}

// DecodePythPrice parses the aggregate price of a price account.
func DecodePythPrice(data []byte) (PythPrice, error) {
	if !IsPythPriceAccount(data) {
		return PythPrice{}, fmt.Errorf("solana: pyth: %w", domain.ErrInvalidAccount)
	}
	expo := int32(binary.LittleEndian.Uint32(data[pythExponentOffset:]))
	agg := data[pythAggOffset:]
	price := int64(binary.LittleEndian.Uint64(agg[0:]))
	conf := binary.LittleEndian.Uint64(agg[8:])
	status := binary.LittleEndian.Uint32(agg[16:])
	return PythPrice{
		Price:      decimal.New(price, expo),
		Confidence: decimal.New(int64(conf), expo),
		Trading:    status == pythStatusTrading,
		PubSlot:    binary.LittleEndian.Uint64(agg[24:]),
	}, nil
}
