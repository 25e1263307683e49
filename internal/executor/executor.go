package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// ErrConfirmTimeout is a sent transaction whose status never reached the
// configured commitment in time.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// SimulationError is a transaction the node rejected during dry run. It was
// never broadcast.
type SimulationError struct {
	Detail  string
	LastLog string
}

func (e *SimulationError) Error() string {
	return "simulation failed: " + e.Detail
}

// ExecutionError is a transaction that landed but failed on chain.
type ExecutionError struct {
	Signature string
	Detail    string
	LastLog   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed on chain: %s", e.Signature, e.Detail)
}

// Ledger is the subset of the node API the protocol needs.
type Ledger interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	SimulateTransaction(ctx context.Context, wire []byte) (solana.SimulationResult, error)
	SendTransaction(ctx context.Context, wire []byte, opts solana.SendOptions) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*solana.SignatureStatus, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*solana.TransactionDetail, error)
}

// Stage names the step a transaction reached.
type Stage string

const (
	StageBuild     Stage = "build"
	StageSimulate  Stage = "simulate"
	StageSend      Stage = "send"
	StageConfirm   Stage = "confirm"
	StageConfirmed Stage = "confirmed"
)

// Outcome classifies one pass through the protocol. Stage is StageConfirmed
// on success and otherwise the stage that failed.
type Outcome struct {
	Kind       string
	Stage      Stage
	Signature  string
	Diagnostic string // last program log line, when one is available
	Logs       []string
	Err        error
}

// OK reports whether the transaction confirmed without error.
func (o Outcome) OK() bool {
	return o.Stage == StageConfirmed && o.Err == nil
}

func (o Outcome) String() string {
	if o.OK() {
		return fmt.Sprintf("%s confirmed: %s", o.Kind, o.Signature)
	}
	msg := fmt.Sprintf("%s failed at %s: %v", o.Kind, o.Stage, o.Err)
	if o.Diagnostic != "" {
		msg += " (" + o.Diagnostic + ")"
	}
	return msg
}

// Config tunes the protocol.
type Config struct {
	Commitment     string // "confirmed" or "finalized"
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	SendMaxRetries uint
	SendBackoff    time.Duration
	SkipPreflight  bool
}

// Executor builds, signs, simulates, sends and confirms transactions.
type Executor struct {
	ledger Ledger
	signer solana.Signer
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an Executor that signs with signer and pays fees from
// its account.
func NewExecutor(ledger Ledger, signer solana.Signer, cfg Config, logger *slog.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SendBackoff <= 0 {
		cfg.SendBackoff = 500 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	return &Executor{
		ledger: ledger,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Payer returns the fee payer and signing authority.
func (e *Executor) Payer() solana.PublicKey {
	return e.signer.PublicKey()
}

// Execute compiles ixs into a transaction under a fresh blockhash and runs
// it through the protocol. A positive priorityFee prepends a compute unit
// price instruction.
func (e *Executor) Execute(ctx context.Context, kind string, ixs []solana.Instruction, priorityFee uint64) Outcome {
	start := time.Now()
	if priorityFee > 0 {
		ixs = append([]solana.Instruction{solana.SetComputeUnitPrice(priorityFee)}, ixs...)
	}

	blockhash, _, err := e.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: fmt.Errorf("blockhash: %w", err)})
	}
	tx, err := solana.NewTransaction(e.signer.PublicKey(), ixs, blockhash)
	if err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: err})
	}
	if err := tx.Sign(e.signer); err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: err})
	}
	wire, err := tx.Serialize()
	if err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: err})
	}
	return e.finish(kind, start, e.submit(ctx, wire, tx.Signature()))
}

// ExecuteRaw replaces the blockhash of a prebuilt transaction, signs it and
// runs it through the protocol.
func (e *Executor) ExecuteRaw(ctx context.Context, kind string, raw *solana.RawTransaction) Outcome {
	start := time.Now()
	blockhash, _, err := e.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: fmt.Errorf("blockhash: %w", err)})
	}
	raw.SetRecentBlockhash(blockhash)
	if err := raw.Sign(e.signer); err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: err})
	}
	wire, err := raw.Serialize()
	if err != nil {
		return e.finish(kind, start, Outcome{Stage: StageBuild, Err: err})
	}
	return e.finish(kind, start, e.submit(ctx, wire, raw.Signature()))
}

func (e *Executor) submit(ctx context.Context, wire []byte, sig solana.Signature) Outcome {
	out := Outcome{Signature: sig.String()}

	sim, err := e.ledger.SimulateTransaction(ctx, wire)
	if err != nil {
		out.Stage, out.Err = StageSimulate, err
		return out
	}
	if sim.Failed() {
		out.Stage = StageSimulate
		out.Logs = sim.Logs
		out.Diagnostic = lastLogLine(sim.Logs)
		out.Err = &SimulationError{Detail: string(sim.Err), LastLog: out.Diagnostic}
		return out
	}

	opts := solana.SendOptions{SkipPreflight: e.cfg.SkipPreflight}
	if e.cfg.SendMaxRetries > 0 {
		retries := e.cfg.SendMaxRetries
		opts.MaxRetries = &retries
	}
	sent, err := e.send(ctx, wire, opts)
	if err != nil {
		out.Stage, out.Err = StageSend, err
		return out
	}
	out.Signature = sent.String()

	if err := e.confirm(ctx, sent); err != nil {
		out.Stage, out.Err = StageConfirm, err
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			out.Logs = e.fetchLogs(ctx, sent)
			out.Diagnostic = lastLogLine(out.Logs)
			execErr.LastLog = out.Diagnostic
		}
		return out
	}
	out.Stage = StageConfirmed
	return out
}

// send broadcasts wire. Transport errors, 5xx and rate limiting are retried;
// a rejection by the node ends the attempt. Resending the same signed bytes
// is idempotent on chain.
func (e *Executor) send(ctx context.Context, wire []byte, opts solana.SendOptions) (solana.Signature, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.SendBackoff
	bo.MaxElapsedTime = 10 * e.cfg.SendBackoff

	var sig solana.Signature
	op := func() error {
		var err error
		sig, err = e.ledger.SendTransaction(ctx, wire, opts)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil, solana.IsNodeRejection(err):
			return backoff.Permanent(err)
		}
		e.logger.Debug("send failed, retrying", slog.String("error", err.Error()))
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// confirm polls signature status until the configured commitment is reached,
// the transaction fails, or the timeout elapses.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		statuses, err := e.ledger.GetSignatureStatuses(ctx, sig)
		switch {
		case err != nil:
			e.logger.Debug("signature status poll failed",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			if st.Failed() {
				return &ExecutionError{Signature: sig.String(), Detail: string(st.Err)}
			}
			if commitmentReached(st.ConfirmationStatus, e.cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrConfirmTimeout, e.cfg.ConfirmTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) fetchLogs(ctx context.Context, sig solana.Signature) []string {
	detail, err := e.ledger.GetTransaction(ctx, sig)
	if err != nil || detail == nil || detail.Meta == nil {
		return nil
	}
	return detail.Meta.LogMessages
}

func (e *Executor) finish(kind string, start time.Time, out Outcome) Outcome {
	out.Kind = kind
	metrics.RecordTransaction(kind, string(out.Stage), time.Since(start))

	log := e.logger.With(
		slog.String("kind", kind),
		slog.String("stage", string(out.Stage)),
		slog.String("signature", out.Signature),
	)
	if out.OK() {
		log.Info("transaction confirmed")
		return out
	}
	log.Warn("transaction failed",
		slog.String("error", out.Err.Error()),
		slog.String("diagnostic", out.Diagnostic),
	)
	return out
}

func commitmentReached(status, want string) bool {
	rank := map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}
	return rank[status] >= rank[want] && rank[status] > 0
}

func lastLogLine(logs []string) string {
	for i := len(logs) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(logs[i]); line != "" {
			return line
		}
	}
	return ""
}
