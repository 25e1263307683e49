package watcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

type fakeFetcher struct {
	tx *solana.TransactionDetail
}

func (f *fakeFetcher) GetTransaction(context.Context, solana.Signature) (*solana.TransactionDetail, error) {
	return f.tx, nil
}

type fakePositions struct {
	mu    sync.Mutex
	calls int
	addrs []string
}

func (f *fakePositions) Positions(context.Context, domain.MarketConfig) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]domain.Position, len(f.addrs))
	for i, a := range f.addrs {
		out[i] = domain.Position{Address: a}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

type memStream struct {
	mu       sync.Mutex
	payloads []string
}

func (s *memStream) Append(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, string(payload))
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notify.Event
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.messages = append(r.messages, msg)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.MarketConfig {
	return domain.MarketConfig{
		Name:    "main",
		Address: "4UpD2fh7xH3VP9QQaXtsS1YY3bxzWhtfpks7FatyKvdY",
		Reserves: []domain.ReserveConfig{
			{Symbol: "USDC", Mint: usdcMint, Decimals: 6},
		},
	}
}

func TestHandleRecordsActivity(t *testing.T) {
	audit := &memAudit{}
	stream := &memStream{}
	n := &recordingNotifier{}
	w := New(Config{Market: testMarket()}, Deps{
		Fetcher:   &fakeFetcher{tx: liquidationTx()},
		Positions: &fakePositions{addrs: []string{obligation}},
		Audit:     audit,
		Stream:    stream,
		Notifier:  n,
	}, discardLogger())
	require.NoError(t, w.refreshPositions(t.Context()))

	sig := solana.Signature{1, 2, 3}.String()
	w.handle(t.Context(), sig)
	w.handle(t.Context(), sig)

	assert.Equal(t, []string{"activity.liquidate"}, audit.events())
	assert.Equal(t, obligation, audit.entries[0].Detail["position"])
	assert.Equal(t, map[string]string{"USDC": "100", solMint: "-2.5"}, audit.entries[0].Detail["transfers"])

	require.Len(t, stream.payloads, 1)
	assert.Contains(t, stream.payloads[0], `"action":"liquidate"`)

	require.Equal(t, []notify.Event{notify.EventActivity}, n.events)
	assert.Contains(t, n.messages[0], "liquidate in market main")
	assert.Contains(t, n.messages[0], "USDC: -100")
}

func TestHandleMissingTransaction(t *testing.T) {
	audit := &memAudit{}
	w := New(Config{Market: testMarket()}, Deps{
		Fetcher:   &fakeFetcher{},
		Positions: &fakePositions{},
		Audit:     audit,
	}, discardLogger())

	w.handle(t.Context(), solana.Signature{9}.String())
	assert.Equal(t, []string{"activity.unhandled"}, audit.events())
}

func TestHandleCreateReloadsPositions(t *testing.T) {
	tx := liquidationTx()
	tx.Meta.LogMessages = []string{"Program log: Create"}
	positions := &fakePositions{}
	audit := &memAudit{}
	w := New(Config{Market: testMarket()}, Deps{
		Fetcher:   &fakeFetcher{tx: tx},
		Positions: positions,
		Audit:     audit,
	}, discardLogger())
	require.NoError(t, w.refreshPositions(t.Context()))
	assert.False(t, w.Known(obligation))

	positions.addrs = []string{obligation}
	w.handle(t.Context(), solana.Signature{4}.String())

	assert.True(t, w.Known(obligation))
	assert.Equal(t, 2, positions.calls)
	require.Equal(t, []string{"activity.create"}, audit.events())
	assert.Equal(t, obligation, audit.entries[0].Detail["position"])
}

func TestRunSubscribesAndHandlesNotifications(t *testing.T) {
	sig := solana.Signature{7}.String()
	subscribed := make(chan string, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":5,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"jsonrpc":"2.0","method":"logsNotification","params":{"result":{"context":{"slot":1},"value":{"signature":"`+sig+`","err":null,"logs":[]}},"subscription":5}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	audit := &memAudit{}
	w := New(Config{
		WSURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Market:       testMarket(),
		PingInterval: 50 * time.Millisecond,
	}, Deps{
		Fetcher:   &fakeFetcher{tx: liquidationTx()},
		Positions: &fakePositions{addrs: []string{obligation}},
		Audit:     audit,
	}, discardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case msg := <-subscribed:
		assert.Contains(t, msg, `"method":"logsSubscribe"`)
		assert.Contains(t, msg, `"mentions":["4UpD2fh7xH3VP9QQaXtsS1YY3bxzWhtfpks7FatyKvdY"]`)
		assert.Contains(t, msg, `"commitment":"finalized"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		return len(audit.events()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "activity.liquidate", audit.events()[0])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
