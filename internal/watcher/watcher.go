// Package watcher follows lending-market activity over the node's websocket
// log subscription and records every classified transaction in the audit
// log.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 30 * time.Second
	queueLength = 256
)

// TxFetcher loads landed transactions.
type TxFetcher interface {
	GetTransaction(ctx context.Context, sig solana.Signature) (*solana.TransactionDetail, error)
}

// PositionLister lists a market's positions.
type PositionLister interface {
	Positions(ctx context.Context, market domain.MarketConfig) ([]domain.Position, error)
}

// Stream receives every recorded activity as JSON. Optional.
type Stream interface {
	Append(ctx context.Context, payload []byte) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event, message string)
}

// Config tunes the watcher.
type Config struct {
	WSURL           string
	Market          domain.MarketConfig
	FetchDelay      time.Duration // wait before loading a transaction
	PingInterval    time.Duration
	RefreshInterval time.Duration // how often known positions are reloaded
	SeenTTL         time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

// Deps groups the collaborators. Seen, Stream and Notifier may be nil.
type Deps struct {
	Fetcher   TxFetcher
	Positions PositionLister
	Audit     domain.AuditStore
	Seen      domain.SeenStore
	Stream    Stream
	Notifier  Notifier
}

// Watcher subscribes to logs mentioning the market and records activity.
type Watcher struct {
	cfg    Config
	deps   Deps
	local  *dedup
	logger *slog.Logger

	mu          sync.RWMutex
	obligations map[string]bool
	symbols     map[string]string
}

// New creates a Watcher.
func New(cfg Config, deps Deps, logger *slog.Logger) *Watcher {
	if cfg.FetchDelay < 0 {
		cfg.FetchDelay = 0
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 3 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = 24 * time.Hour
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 2 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}

	symbols := make(map[string]string, len(cfg.Market.Reserves))
	for _, r := range cfg.Market.Reserves {
		symbols[r.Mint] = r.Symbol
	}
	return &Watcher{
		cfg:     cfg,
		deps:    deps,
		local:   newDedup(cfg.SeenTTL),
		symbols: symbols,
		logger: logger.With(
			slog.String("component", "watcher"),
			slog.String("market", cfg.Market.Name),
		),
	}
}

// Run keeps a subscription open until ctx is cancelled, reconnecting with
// exponential backoff.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.refreshPositions(ctx); err != nil {
		w.logger.WarnContext(ctx, "initial position load failed", slog.String("error", err.Error()))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.ReconnectMin
	bo.MaxInterval = w.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > w.cfg.ReconnectMax {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		metrics.WebSocketReconnects.Inc()
		w.logger.WarnContext(ctx, "subscription lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("wait", wait),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type logsNotification struct {
	Method string `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// session runs one websocket connection until it fails or ctx ends.
func (w *Watcher) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("watcher: dial: %w", err)
	}
	defer conn.Close()

	req := subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []any{
			map[string]any{"mentions": []string{w.cfg.Market.Address}},
			map[string]any{"commitment": "finalized"},
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("watcher: subscribe: %w", err)
	}
	w.logger.InfoContext(ctx, "subscribed to market logs")

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g, gctx := errgroup.WithContext(ctx)
	sigs := make(chan string, queueLength)

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		defer close(sigs)
		return w.readLoop(gctx, conn, sigs)
	})
	g.Go(func() error {
		return w.pingLoop(gctx, conn)
	})
	g.Go(func() error {
		for sig := range sigs {
			w.handle(gctx, sig)
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(w.cfg.RefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := w.refreshPositions(gctx); err != nil {
					w.logger.WarnContext(gctx, "position refresh failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	return g.Wait()
}

func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn, sigs chan<- string) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watcher: %w: %v", domain.ErrWSDisconnect, err)
		}

		var msg logsNotification
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.DebugContext(ctx, "unparseable message", slog.String("error", err.Error()))
			continue
		}
		if msg.Method != "logsNotification" || msg.Params == nil {
			continue
		}
		sig := msg.Params.Result.Value.Signature
		if sig == "" {
			continue
		}
		select {
		case sigs <- sig:
		default:
			w.logger.WarnContext(ctx, "activity queue full, dropping signature", slog.String("signature", sig))
		}
	}
}

func (w *Watcher) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(w.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("watcher: ping: %w", err)
			}
		}
	}
}

// handle loads, classifies and records one signature. Failures are logged;
// they never end the session.
func (w *Watcher) handle(ctx context.Context, sig string) {
	if !w.firstSeen(ctx, sig) {
		return
	}
	log := w.logger.With(slog.String("signature", sig))

	if w.cfg.FetchDelay > 0 {
		t := time.NewTimer(w.cfg.FetchDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	tx, err := w.load(ctx, sig)
	if err != nil {
		log.WarnContext(ctx, "transaction not loaded", slog.String("error", err.Error()))
		w.record(ctx, "activity.unhandled", map[string]any{"signature": sig, "error": err.Error()})
		return
	}
	act := w.classify(sig, tx)
	if act.Action == domain.ActionCreate {
		// The new position is only known after a reload.
		if err := w.refreshPositions(ctx); err != nil {
			log.WarnContext(ctx, "position refresh failed", slog.String("error", err.Error()))
		}
		act = w.classify(sig, tx)
	}

	metrics.ActivityEvents.WithLabelValues(string(act.Action)).Inc()
	event := "activity." + string(act.Action)
	if act.Action == domain.ActionUnknown {
		event = "activity.unhandled"
	}
	w.record(ctx, event, activityDetail(act))

	if w.deps.Stream != nil {
		if payload, err := json.Marshal(act); err == nil {
			if err := w.deps.Stream.Append(ctx, payload); err != nil {
				log.WarnContext(ctx, "activity stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	if w.deps.Notifier != nil && (act.Action == domain.ActionLiquidate || act.Error != "") {
		w.deps.Notifier.Notify(ctx, notify.EventActivity, describe(w.cfg.Market, act))
	}
	log.InfoContext(ctx, "activity recorded",
		slog.String("action", string(act.Action)),
		slog.String("position", act.Position),
		slog.String("signer", act.Signer),
	)
}

func (w *Watcher) load(ctx context.Context, sig string) (*solana.TransactionDetail, error) {
	parsed, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return nil, fmt.Errorf("watcher: signature: %w", err)
	}
	tx, err := w.deps.Fetcher.GetTransaction(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("watcher: get transaction: %w", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("watcher: get transaction: %w", domain.ErrNotFound)
	}
	return tx, nil
}

func (w *Watcher) classify(sig string, tx *solana.TransactionDetail) domain.Activity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Classify(sig, tx, w.obligations, w.symbols)
}

// Known reports whether addr is a loaded position of the market.
func (w *Watcher) Known(addr string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.obligations[addr]
}

// firstSeen consults the shared store and falls back to the in-process set
// when none is configured or it fails.
func (w *Watcher) firstSeen(ctx context.Context, sig string) bool {
	if w.deps.Seen != nil {
		first, err := w.deps.Seen.MarkSeen(ctx, sig, w.cfg.SeenTTL)
		if err == nil {
			return first && w.local.first(sig)
		}
		w.logger.WarnContext(ctx, "shared dedup unavailable", slog.String("error", err.Error()))
	}
	return w.local.first(sig)
}

func (w *Watcher) refreshPositions(ctx context.Context) error {
	positions, err := w.deps.Positions.Positions(ctx, w.cfg.Market)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(positions))
	for _, p := range positions {
		set[p.Address] = true
	}
	w.mu.Lock()
	w.obligations = set
	w.mu.Unlock()
	w.logger.DebugContext(ctx, "positions reloaded", slog.Int("count", len(set)))
	return nil
}

func (w *Watcher) record(ctx context.Context, event string, detail map[string]any) {
	if w.deps.Audit == nil {
		return
	}
	if err := w.deps.Audit.Log(ctx, event, detail); err != nil {
		w.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func activityDetail(act domain.Activity) map[string]any {
	transfers := make(map[string]string, len(act.Transfers))
	for _, t := range act.Transfers {
		name := t.Symbol
		if name == "" {
			name = t.Mint
		}
		transfers[name] = t.Change.String()
	}
	detail := map[string]any{
		"signature": act.Signature,
		"slot":      act.Slot,
		"signer":    act.Signer,
		"position":  act.Position,
		"transfers": transfers,
	}
	if !act.BlockTime.IsZero() {
		detail["block_time"] = act.BlockTime.Format(time.RFC3339)
	}
	if act.Error != "" {
		detail["error"] = act.Error
	}
	return detail
}

func describe(market domain.MarketConfig, act domain.Activity) string {
	msg := fmt.Sprintf("%s in market %s by %s", act.Action, market.Name, act.Signer)
	if act.Position != "" {
		msg += "\nobligation: " + act.Position
	}
	for _, t := range act.Transfers {
		name := t.Symbol
		if name == "" {
			name = t.Mint
		}
		msg += fmt.Sprintf("\n%s: %s", name, t.Change.Neg().String())
	}
	if act.Error != "" {
		msg += "\nerror: " + act.Error
	}
	return msg + "\nsignature: " + act.Signature
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, domain.ErrWSDisconnect) {
		return "disconnected: " + err.Error()
	}
	return err.Error()
}
