package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/store/memory"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func publish(t *testing.T, bus domain.EventBus, kind, assetID string) {
	payload, err := json.Marshal(domain.TxEvent{Kind: kind, Transaction: domain.Transaction{ID: kind + assetID, AssetID: assetID}})
	assert.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), domain.ChannelTransactions, payload))
}

func TestHubForwardsFilteredEvents(t *testing.T) {
	bus := memory.NewEventBus()
	hub := NewHub(bus, Config{Mode: "simulate", Account: "0xabc"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?assets=tower"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Contains(t, string(hello.Payload), `"account":"0xabc"`)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Run subscribes asynchronously; keep publishing until something lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				publish(t, bus, "tx_completed", "villa")
				publish(t, bus, "tx_completed", "tower")
			}
		}
	}()

	env := readEnvelope(t, conn)
	assert.Equal(t, "tx_completed", env.Type)
	var ev domain.TxEvent
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, "tower", ev.Transaction.AssetID)
}

// historyBus keeps every published event, newest first, like the Redis bus.
type historyBus struct {
	*memory.EventBus
	history [][]byte
}

func (b *historyBus) Recent(_ context.Context, _ string, n int) ([][]byte, error) {
	if n > len(b.history) {
		n = len(b.history)
	}
	return b.history[:n], nil
}

func eventBytes(t *testing.T, kind, assetID string) []byte {
	t.Helper()
	b, err := json.Marshal(domain.TxEvent{Kind: kind, Transaction: domain.Transaction{ID: kind + assetID, AssetID: assetID}})
	require.NoError(t, err)
	return b
}

func TestReplayPrecedesLiveEvents(t *testing.T) {
	bus := &historyBus{EventBus: memory.NewEventBus(), history: [][]byte{
		eventBytes(t, "tx_completed", "tower"),
		eventBytes(t, "tx_completed", "villa"),
		eventBytes(t, "tx_pending", "tower"),
	}}
	hub := NewHub(bus, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?assets=tower", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello", readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.broadcast(eventBytes(t, "tx_failed", "tower"))

	var got []string
	for range 3 {
		got = append(got, readEnvelope(t, conn).Type)
	}
	assert.Equal(t, []string{"tx_pending", "tx_completed", "tx_failed"}, got)
}

func TestClosedHubRefusesClients(t *testing.T) {
	hub := NewHub(memory.NewEventBus(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.closeAll()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(memory.NewEventBus(), Config{AllowedOrigins: []string{"http://app.example"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "http://app.example")
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, hub.checkOrigin(r))
}

func TestClientFilter(t *testing.T) {
	c := &client{assets: map[string]bool{}}
	assert.True(t, c.wants("any"))
	c.apply(subscribeMsg{Action: "subscribe", Assets: []string{"tower"}})
	assert.True(t, c.wants("tower"))
	assert.False(t, c.wants("villa"))
	c.apply(subscribeMsg{Action: "all"})
	assert.True(t, c.wants("villa"))
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
