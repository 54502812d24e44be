package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/store/memory"
)

type recordingSender struct {
	name string
	err  error

	mu  sync.Mutex
	got []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func cashOutEvent(kind string) domain.TxEvent {
	return domain.TxEvent{Kind: kind, Transaction: domain.Transaction{
		ID:        "tx-1",
		AssetID:   "prop-1",
		Type:      domain.ActionCashOut,
		AmountIn:  decimal.NewFromInt(1000),
		AmountOut: decimal.NewFromInt(850),
		TxHash:    "0xabc",
	}}
}

func TestRenderCompleted(t *testing.T) {
	msg := Render(cashOutEvent("tx_completed"))
	assert.Equal(t, "CASHOUT completed", msg.Title)
	assert.Contains(t, msg.Body, "Payout: 850.00")
	assert.Contains(t, msg.Body, "Tx: 0xabc")
	assert.False(t, msg.Failed)
}

func TestRenderFailedCarriesReason(t *testing.T) {
	ev := cashOutEvent("tx_failed")
	ev.Transaction.FailureReason = "contract call rejected"
	msg := Render(ev)
	assert.True(t, msg.Failed)
	assert.Contains(t, msg.Body, "Reason: contract call rejected")
}

func TestNotifyTxFiltersKinds(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"tx_failed"}, discard())

	require.NoError(t, n.NotifyTx(context.Background(), cashOutEvent("tx_completed")))
	assert.Empty(t, s.got)

	require.NoError(t, n.NotifyTx(context.Background(), cashOutEvent("tx_failed")))
	assert.Len(t, s.got, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyTx(context.Background(), cashOutEvent("tx_completed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.got, 1)
}

func TestRunDeliversBusEvents(t *testing.T) {
	bus := memory.NewEventBus()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, bus) }()

	payload, err := json.Marshal(cashOutEvent("tx_completed"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelTransactions, payload)
		return s.count() > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTelegramSenderPostsHTML(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Title: "a<b", Body: "x"}))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "<b>a&lt;b</b>\nx", body["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
