package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/config"
	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

type fakeRPC struct {
	accounts map[solana.PublicKey]*solana.AccountInfo
	program  []solana.KeyedAccount
	filters  []solana.Filter
	slot     uint64
	fees     []solana.PrioritizationFee
	feeErr   error
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, pk solana.PublicKey) (*solana.AccountInfo, error) {
	return f.accounts[pk], nil
}

func (f *fakeRPC) GetMultipleAccounts(_ context.Context, pks []solana.PublicKey) ([]*solana.AccountInfo, uint64, error) {
	out := make([]*solana.AccountInfo, len(pks))
	for i, pk := range pks {
		out[i] = f.accounts[pk]
	}
	return out, f.slot, nil
}

func (f *fakeRPC) GetProgramAccounts(_ context.Context, _ solana.PublicKey, filters ...solana.Filter) ([]solana.KeyedAccount, error) {
	f.filters = filters
	return f.program, nil
}

func (f *fakeRPC) GetRecentPrioritizationFees(context.Context, []solana.PublicKey) ([]solana.PrioritizationFee, error) {
	return f.fees, f.feeErr
}

type fakeExec struct {
	ixs []solana.Instruction
	out executor.Outcome
}

func (f *fakeExec) Execute(_ context.Context, kind string, ixs []solana.Instruction, _ uint64) executor.Outcome {
	f.ixs = ixs
	f.out.Kind = kind
	return f.out
}

func key(t *testing.T) solana.PublicKey {
	t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(t, err)
	return kp.PublicKey()
}

func u128(b []byte, d decimal.Decimal) []byte {
	wad := solana.DecimalToWad(d).Bytes32()
	for i := 31; i >= 16; i-- {
		b = append(b, wad[i])
	}
	return b
}

type reserveFields struct {
	market, mint, pyth solana.PublicKey
	slot               uint64
	decimals           uint8
	price              string
	available          uint64
}

func encodeReserve(f reserveFields) []byte {
	b := []byte{1}
	b = binary.LittleEndian.AppendUint64(b, f.slot)
	b = append(b, 0)
	b = append(b, f.market[:]...)
	b = append(b, f.mint[:]...)
	b = append(b, f.decimals)
	b = append(b, make([]byte, 32)...) // liquidity supply
	b = append(b, f.pyth[:]...)
	b = append(b, make([]byte, 32)...) // switchboard
	b = binary.LittleEndian.AppendUint64(b, f.available)
	b = u128(b, decimal.Zero)
	b = u128(b, decimal.NewFromInt(1))
	b = u128(b, decimal.RequireFromString(f.price))
	b = append(b, make([]byte, 32)...) // collateral mint
	b = binary.LittleEndian.AppendUint64(b, f.available)
	b = append(b, make([]byte, 32)...) // collateral supply
	b = append(b, 80, 75, 5, 80, 0, 4, 30)
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = append(b, 20)
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = append(b, make([]byte, 32)...)
	return append(b, make([]byte, solana.ReserveSize-len(b))...)
}

func encodePyth(price int64, expo int32, trading bool, pubSlot uint64) []byte {
	b := make([]byte, 240)
	binary.LittleEndian.PutUint32(b[0:], 0xa1b2c3d4)
	binary.LittleEndian.PutUint32(b[8:], 3)
	binary.LittleEndian.PutUint32(b[20:], uint32(expo))
	binary.LittleEndian.PutUint64(b[208:], uint64(price))
	if trading {
		binary.LittleEndian.PutUint32(b[224:], 1)
	}
	binary.LittleEndian.PutUint64(b[232:], pubSlot)
	return b
}

func encodeObligation(market, owner solana.PublicKey) []byte {
	b := []byte{1}
	b = binary.LittleEndian.AppendUint64(b, 10)
	b = append(b, 0)
	b = append(b, market[:]...)
	b = append(b, owner[:]...)
	for range 4 {
		b = u128(b, decimal.Zero)
	}
	b = append(b, make([]byte, 64)...)
	b = append(b, 0, 0)
	return append(b, make([]byte, solana.ObligationSize-len(b))...)
}

func tokenAccount(amount uint64) []byte {
	b := make([]byte, 165)
	binary.LittleEndian.PutUint64(b[64:], amount)
	return b
}

func newLedger(rpc *fakeRPC, exec TxExecutor, wallet solana.PublicKey, opts Options) *Ledger {
	return New(rpc, exec, wallet, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type marketFixture struct {
	market   domain.MarketConfig
	sol, usd domain.ReserveConfig
	rpc      *fakeRPC
}

func newMarketFixture(t *testing.T) marketFixture {
	t.Helper()
	marketKey := key(t)
	solReserve, solMint, solPyth := key(t), key(t), key(t)
	usdReserve, usdMint := key(t), key(t)

	f := marketFixture{
		sol: domain.ReserveConfig{Address: solReserve.String(), Symbol: "SOL", Mint: solMint.String(), Decimals: 9, PythOracle: solPyth.String()},
		usd: domain.ReserveConfig{Address: usdReserve.String(), Symbol: "USDC", Mint: usdMint.String(), Decimals: 6, PythOracle: nullOracle},
		rpc: &fakeRPC{slot: 1000, accounts: map[solana.PublicKey]*solana.AccountInfo{}},
	}
	f.market = domain.MarketConfig{Name: "main", Address: marketKey.String(), Reserves: []domain.ReserveConfig{f.sol, f.usd}}

	f.rpc.accounts[solReserve] = &solana.AccountInfo{Data: encodeReserve(reserveFields{
		market: marketKey, mint: solMint, pyth: solPyth, slot: 900, decimals: 9, price: "20", available: 1000,
	})}
	f.rpc.accounts[solPyth] = &solana.AccountInfo{Data: encodePyth(2150, -2, true, 995)}
	f.rpc.accounts[usdReserve] = &solana.AccountInfo{Data: encodeReserve(reserveFields{
		market: marketKey, mint: usdMint, slot: 990, decimals: 6, price: "1", available: 1000,
	})}
	return f
}

func TestSnapshotPrefersPyth(t *testing.T) {
	f := newMarketFixture(t)
	l := newLedger(f.rpc, nil, key(t), Options{MaxOracleSlotLag: 25, MaxReserveSlotLag: 100})

	snap, err := l.Snapshot(context.Background(), f.market)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), snap.Slot)
	require.Len(t, snap.Reserves, 2)

	sol := snap.Quotes[f.sol.Address]
	assert.Equal(t, "21.5", sol.Price.String())
	assert.Equal(t, uint64(995), sol.Slot)
	assert.False(t, sol.Stale)

	usd := snap.Quotes[f.usd.Address]
	assert.Equal(t, "1", usd.Price.String())
	assert.False(t, usd.Stale)

	meta := snap.Reserves[f.sol.Address]
	assert.Equal(t, "0.75", meta.LoanToValue.String())
	assert.Equal(t, "0.8", meta.LiquidationThreshold.String())
}

func TestSnapshotFallsBackToReservePrice(t *testing.T) {
	f := newMarketFixture(t)
	solPyth := solana.MustPublicKey(f.sol.PythOracle)
	f.rpc.accounts[solPyth] = &solana.AccountInfo{Data: encodePyth(2150, -2, false, 995)}

	l := newLedger(f.rpc, nil, key(t), Options{MaxOracleSlotLag: 25, MaxReserveSlotLag: 200})
	snap, err := l.Snapshot(context.Background(), f.market)
	require.NoError(t, err)

	sol := snap.Quotes[f.sol.Address]
	assert.Equal(t, "20", sol.Price.String())
	assert.False(t, sol.Stale)
}

func TestSnapshotMarksOldReservePriceStale(t *testing.T) {
	f := newMarketFixture(t)
	solPyth := solana.MustPublicKey(f.sol.PythOracle)
	f.rpc.accounts[solPyth] = &solana.AccountInfo{Data: encodePyth(2150, -2, true, 500)}

	l := newLedger(f.rpc, nil, key(t), Options{MaxOracleSlotLag: 25, MaxReserveSlotLag: 50})
	snap, err := l.Snapshot(context.Background(), f.market)
	require.NoError(t, err)
	assert.True(t, snap.Quotes[f.sol.Address].Stale)
	assert.False(t, snap.Quotes[f.usd.Address].Stale)
}

func TestSnapshotDefaultLagsRejectDeadOracle(t *testing.T) {
	f := newMarketFixture(t)
	solPyth := solana.MustPublicKey(f.sol.PythOracle)
	f.rpc.accounts[solPyth] = &solana.AccountInfo{Data: encodePyth(2150, -2, false, 100)}

	rpcCfg := config.Defaults().RPC
	l := newLedger(f.rpc, nil, key(t), Options{
		MaxOracleSlotLag:  rpcCfg.MaxOracleSlotLag,
		MaxReserveSlotLag: rpcCfg.MaxReserveSlotLag,
	})
	snap, err := l.Snapshot(context.Background(), f.market)
	require.NoError(t, err)

	sol := snap.Quotes[f.sol.Address]
	assert.Equal(t, uint64(900), sol.Slot)
	assert.True(t, sol.Stale)
	assert.False(t, snap.Quotes[f.usd.Address].Stale)
}

func TestSnapshotSkipsMissingReserve(t *testing.T) {
	f := newMarketFixture(t)
	delete(f.rpc.accounts, solana.MustPublicKey(f.usd.Address))

	l := newLedger(f.rpc, nil, key(t), Options{MaxOracleSlotLag: 25})
	snap, err := l.Snapshot(context.Background(), f.market)
	require.NoError(t, err)
	assert.Len(t, snap.Reserves, 1)
	_, ok := snap.Quotes[f.usd.Address]
	assert.False(t, ok)
}

func TestPositionsFiltersByMarket(t *testing.T) {
	market, owner := key(t), key(t)
	good, bad := key(t), key(t)
	rpc := &fakeRPC{program: []solana.KeyedAccount{
		{PublicKey: good, Account: solana.AccountInfo{Data: encodeObligation(market, owner)}},
		{PublicKey: bad, Account: solana.AccountInfo{Data: []byte{1, 2, 3}}},
	}}
	l := newLedger(rpc, nil, key(t), Options{})

	positions, err := l.Positions(context.Background(), domain.MarketConfig{Name: "main", Address: market.String()})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, good.String(), positions[0].Address)
	assert.Equal(t, owner.String(), positions[0].Owner)

	require.Len(t, rpc.filters, 2)
	assert.Equal(t, uint64(solana.LendingMarketOffset), rpc.filters[0].Memcmp.Offset)
	assert.Equal(t, market.String(), rpc.filters[0].Memcmp.Bytes)
	assert.Equal(t, uint64(solana.ObligationSize), rpc.filters[1].DataSize)
}

func TestPositionNotFound(t *testing.T) {
	l := newLedger(&fakeRPC{}, nil, key(t), Options{})
	_, err := l.Position(context.Background(), key(t).String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalancesReportsMissingAccount(t *testing.T) {
	wallet := key(t)
	solMint, usdMint := key(t), key(t)
	solATA, err := solana.FindAssociatedTokenAddress(wallet, solMint)
	require.NoError(t, err)

	rpc := &fakeRPC{accounts: map[solana.PublicKey]*solana.AccountInfo{
		solATA: {Data: tokenAccount(2_500_000_000)},
	}}
	l := newLedger(rpc, nil, wallet, Options{})

	bals, err := l.Balances(context.Background(), []domain.OracleQuote{
		{Symbol: "SOL", Mint: solMint.String(), Decimals: 9},
		{Symbol: "USDC", Mint: usdMint.String(), Decimals: 6},
	})
	require.NoError(t, err)
	require.Len(t, bals, 2)

	assert.False(t, bals[0].Missing)
	assert.Equal(t, uint64(2_500_000_000), bals[0].Raw)
	assert.Equal(t, "2.5", bals[0].Amount.String())
	assert.Equal(t, solATA.String(), bals[0].TokenAccount)

	assert.True(t, bals[1].Missing)
	assert.True(t, bals[1].Amount.IsZero())
}

func TestCreateTokenAccount(t *testing.T) {
	wallet, mint := key(t), key(t)
	exec := &fakeExec{out: executor.Outcome{Stage: executor.StageConfirmed, Signature: "sig"}}
	l := newLedger(&fakeRPC{}, exec, wallet, Options{})

	ata, err := l.CreateTokenAccount(context.Background(), mint.String())
	require.NoError(t, err)
	want, err := solana.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)
	assert.Equal(t, want.String(), ata)
	require.Len(t, exec.ixs, 1)
	assert.Equal(t, solana.AssociatedTokenProgramID, exec.ixs[0].ProgramID)
}

func TestCreateTokenAccountFailure(t *testing.T) {
	exec := &fakeExec{out: executor.Outcome{Stage: executor.StageSimulate, Err: errors.New("boom")}}
	l := newLedger(&fakeRPC{}, exec, key(t), Options{})
	_, err := l.CreateTokenAccount(context.Background(), key(t).String())
	assert.ErrorContains(t, err, "boom")

	_, err = newLedger(&fakeRPC{}, nil, key(t), Options{}).CreateTokenAccount(context.Background(), key(t).String())
	assert.Error(t, err)
}

func TestPriorityFee(t *testing.T) {
	rpc := &fakeRPC{fees: []solana.PrioritizationFee{{PrioritizationFee: 50}, {PrioritizationFee: 9000}, {PrioritizationFee: 300}}}

	static := newLedger(rpc, nil, key(t), Options{PriorityFee: 100})
	assert.Equal(t, uint64(100), static.PriorityFee(context.Background(), nil))

	dynamic := newLedger(rpc, nil, key(t), Options{PriorityFee: 100, DynamicFee: true})
	assert.Equal(t, uint64(9000), dynamic.PriorityFee(context.Background(), nil))

	capped := newLedger(rpc, nil, key(t), Options{PriorityFee: 100, DynamicFee: true, MaxPriorityFee: 1000})
	assert.Equal(t, uint64(1000), capped.PriorityFee(context.Background(), nil))

	rpc.feeErr = errors.New("unsupported")
	assert.Equal(t, uint64(100), dynamic.PriorityFee(context.Background(), nil))
}
