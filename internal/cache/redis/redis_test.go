package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// setupRedis starts a throwaway Redis container and returns a namespaced
// client. It skips in -short mode and when no container runtime is reachable.
func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("6379/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		PoolSize:  4,
		Namespace: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisIntegration(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	t.Run("key namespacing", func(t *testing.T) {
		assert.Equal(t, "test:lock:asset:0xabc:tower", c.key("lock", "asset:0xabc:tower"))
	})

	t.Run("lock is exclusive until released", func(t *testing.T) {
		locks := NewLockManager(c)

		unlock, err := locks.Acquire(ctx, "tower", time.Minute)
		require.NoError(t, err)

		_, err = locks.Acquire(ctx, "tower", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock() // idempotent

		again, err := locks.Acquire(ctx, "tower", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("stale unlock does not release a newer holder", func(t *testing.T) {
		locks := NewLockManager(c)

		first, err := locks.Acquire(ctx, "villa", 50*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)

		second, err := locks.Acquire(ctx, "villa", time.Minute)
		require.NoError(t, err)
		defer second()

		first()
		_, err = locks.Acquire(ctx, "villa", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)
	})

	t.Run("position cache round trip", func(t *testing.T) {
		cache := NewPositionCache(c)
		pos := domain.AssetPosition{
			AssetID:      "tower",
			Account:      "0xAbC",
			Balance:      decimal.RequireFromString("1000.5"),
			DiscountRate: decimal.NewFromInt(15),
			MaturityDate: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, cache.Set(ctx, pos, time.Minute))

		got, err := cache.Get(ctx, "0xabc", "tower")
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(pos.Balance))
		assert.True(t, got.MaturityDate.Equal(pos.MaturityDate))

		require.NoError(t, cache.Invalidate(ctx, "0xABC", "tower"))
		_, err = cache.Get(ctx, "0xabc", "tower")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("event bus delivers and keeps recent history", func(t *testing.T) {
		bus := NewEventBus(c)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := bus.Subscribe(subCtx, domain.ChannelTransactions)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, domain.ChannelTransactions, []byte(`{"n":1}`)))
		require.NoError(t, bus.Publish(ctx, domain.ChannelTransactions, []byte(`{"n":2}`)))

		select {
		case got := <-ch:
			assert.JSONEq(t, `{"n":1}`, string(got))
		case <-time.After(5 * time.Second):
			t.Fatal("no event delivered")
		}

		recent, err := bus.Recent(ctx, domain.ChannelTransactions, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.JSONEq(t, `{"n":2}`, string(recent[0]))

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 5*time.Second, 10*time.Millisecond)
	})
}
