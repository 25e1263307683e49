package liquidation

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

func key(t *testing.T) string {
	t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(t, err)
	return kp.PublicKey().String()
}

func reserveFixture(t *testing.T, symbol string) domain.ReserveConfig {
	return domain.ReserveConfig{
		Address:           key(t),
		Symbol:            symbol,
		Mint:              key(t),
		CollateralMint:    key(t),
		CollateralSupply:  key(t),
		LiquiditySupply:   key(t),
		FeeReceiver:       key(t),
		PythOracle:        key(t),
		SwitchboardOracle: key(t),
	}
}

type fixture struct {
	market   domain.MarketConfig
	position domain.Position
	sol      domain.ReserveConfig
	usdc     domain.ReserveConfig
}

func newFixture(t *testing.T) fixture {
	sol := reserveFixture(t, "SOL")
	usdc := reserveFixture(t, "USDC")
	return fixture{
		sol:  sol,
		usdc: usdc,
		market: domain.MarketConfig{
			Name:      "main",
			Address:   key(t),
			Authority: key(t),
			Reserves:  []domain.ReserveConfig{sol, usdc},
		},
		position: domain.Position{
			Address: key(t),
			Deposits: []domain.Deposit{
				{Reserve: sol.Address},
			},
			Borrows: []domain.Borrow{
				{Reserve: usdc.Address},
				{Reserve: sol.Address},
			},
		},
	}
}

type accountSet map[solana.PublicKey]bool

func (a accountSet) AccountExists(_ context.Context, pk solana.PublicKey) (bool, error) {
	return a[pk], nil
}

func (f fixture) request() Request {
	return Request{
		Market:   f.market,
		Position: f.position,
		Candidate: Candidate{
			Repay:    domain.AssetValue{Reserve: f.usdc.Address, Symbol: "USDC"},
			Withdraw: domain.AssetValue{Reserve: f.sol.Address, Symbol: "SOL"},
		},
		Amount: 1_000_000,
	}
}

func TestBuildOrdersInstructions(t *testing.T) {
	f := newFixture(t)
	payer, err := solana.NewKeypair()
	require.NoError(t, err)

	ixs, err := NewPlanner(solana.LendingProgramID, accountSet{}).Build(context.Background(), payer.PublicKey(), f.request())
	require.NoError(t, err)

	// 2 reserve refreshes, 1 obligation refresh, 2 account creations, 1 liquidation.
	require.Len(t, ixs, 6)
	assert.Equal(t, []byte{3}, ixs[0].Data)
	assert.Equal(t, f.sol.Address, ixs[0].Accounts[0].PublicKey.String())
	assert.Equal(t, f.usdc.Address, ixs[1].Accounts[0].PublicKey.String())

	assert.Equal(t, []byte{7}, ixs[2].Data)
	// obligation, clock, 1 deposit reserve, 2 borrow reserves
	assert.Len(t, ixs[2].Accounts, 5)

	assert.Equal(t, solana.AssociatedTokenProgramID, ixs[3].ProgramID)
	assert.Equal(t, solana.AssociatedTokenProgramID, ixs[4].ProgramID)

	liq := ixs[5]
	assert.Equal(t, byte(15), liq.Data[0])
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(liq.Data[1:]))
	require.Len(t, liq.Accounts, 16)

	usdcMint := solana.MustPublicKey(f.usdc.Mint)
	source, err := solana.FindAssociatedTokenAddress(payer.PublicKey(), usdcMint)
	require.NoError(t, err)
	assert.Equal(t, source, liq.Accounts[0].PublicKey)
	assert.Equal(t, f.usdc.Address, liq.Accounts[3].PublicKey.String())
	assert.Equal(t, f.sol.FeeReceiver, liq.Accounts[9].PublicKey.String())
	assert.Equal(t, f.position.Address, liq.Accounts[10].PublicKey.String())
	assert.Equal(t, payer.PublicKey(), liq.Accounts[13].PublicKey)
	assert.True(t, liq.Accounts[13].IsSigner)
}

func TestBuildSkipsExistingAccounts(t *testing.T) {
	f := newFixture(t)
	payer, err := solana.NewKeypair()
	require.NoError(t, err)

	coll, err := solana.FindAssociatedTokenAddress(payer.PublicKey(), solana.MustPublicKey(f.sol.CollateralMint))
	require.NoError(t, err)
	liq, err := solana.FindAssociatedTokenAddress(payer.PublicKey(), solana.MustPublicKey(f.sol.Mint))
	require.NoError(t, err)

	ixs, err := NewPlanner(solana.LendingProgramID, accountSet{coll: true, liq: true}).
		Build(context.Background(), payer.PublicKey(), f.request())
	require.NoError(t, err)
	assert.Len(t, ixs, 4)
}

func TestBuildMissingReserve(t *testing.T) {
	f := newFixture(t)
	f.position.Borrows = append(f.position.Borrows, domain.Borrow{Reserve: key(t)})
	payer, err := solana.NewKeypair()
	require.NoError(t, err)

	_, err = NewPlanner(solana.LendingProgramID, accountSet{}).Build(context.Background(), payer.PublicKey(), f.request())
	assert.ErrorIs(t, err, domain.ErrMissingReserve)
}

type recordingExec struct {
	payer solana.PublicKey
	calls int
	fee   uint64
}

func (r *recordingExec) Execute(_ context.Context, kind string, _ []solana.Instruction, fee uint64) executor.Outcome {
	r.calls++
	r.fee = fee
	return executor.Outcome{Kind: kind, Stage: executor.StageConfirmed, Signature: "sig"}
}

func (r *recordingExec) Payer() solana.PublicKey { return r.payer }

type staticFee uint64

func (f staticFee) PriorityFee(context.Context, []solana.PublicKey) uint64 { return uint64(f) }

type failingChecker struct{}

func (failingChecker) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	return false, errors.New("rpc down")
}

func TestLiquidatorBuildFailureNotSent(t *testing.T) {
	f := newFixture(t)
	exec := &recordingExec{}
	l := NewLiquidator(NewPlanner(solana.LendingProgramID, failingChecker{}), exec, staticFee(100),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	out := l.Liquidate(context.Background(), f.request())
	assert.Equal(t, executor.StageBuild, out.Stage)
	assert.Error(t, out.Err)
	assert.Zero(t, exec.calls)
}

func TestLiquidatorSubmits(t *testing.T) {
	f := newFixture(t)
	exec := &recordingExec{}
	l := NewLiquidator(NewPlanner(solana.LendingProgramID, accountSet{}), exec, staticFee(100),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	out := l.Liquidate(context.Background(), f.request())
	assert.True(t, out.OK())
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, uint64(100), exec.fee)
}
