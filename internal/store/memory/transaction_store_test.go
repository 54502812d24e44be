package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

func tx(id, asset string, ts time.Time) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		AssetID:   asset,
		Account:   "0xabc",
		Type:      domain.ActionStake,
		AmountIn:  decimal.NewFromInt(10),
		Timestamp: ts,
		Status:    domain.TxPending,
	}
}

func TestTransactionStoreAppendAndFinalize(t *testing.T) {
	ctx := context.Background()
	s := NewTransactionStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, tx("a", "prop-1", t0)))
	assert.ErrorIs(t, s.Append(ctx, tx("a", "prop-1", t0)), domain.ErrAlreadyExists)

	done, err := s.Finalize(ctx, "a", domain.TxFinalization{
		Status:    domain.TxCompleted,
		AmountOut: decimal.NewFromInt(10),
		TxHash:    "0x01",
		At:        t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, done.Status)
	assert.Equal(t, "0x01", done.TxHash)

	_, err = s.Finalize(ctx, "a", domain.TxFinalization{Status: domain.TxFailed})
	assert.ErrorIs(t, err, domain.ErrAlreadyFinal)

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, got.Status)

	_, err = s.Finalize(ctx, "missing", domain.TxFinalization{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransactionStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewTransactionStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, tx("1", "prop-1", t0)))
	require.NoError(t, s.Append(ctx, tx("2", "prop-2", t0.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, tx("3", "prop-1", t0.Add(2*time.Hour))))
	require.NoError(t, s.Append(ctx, tx("4", "prop-1", t0.Add(2*time.Hour)))) // same instant as 3

	all, err := s.List(ctx, domain.TransactionFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3", "2", "1"}, ids(all))

	p1, err := s.List(ctx, domain.TransactionFilter{AssetID: "prop-1"}, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, ids(p1))

	until := t0.Add(time.Hour)
	older, err := s.List(ctx, domain.TransactionFilter{}, domain.ListOpts{Until: &until})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(older))

	none, err := s.List(ctx, domain.TransactionFilter{}, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(txs []domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestKycStoreIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := NewKycStore()

	_, err := s.Get(ctx, "0xABC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, domain.KycRecord{Account: "0xABC", Status: domain.KycApproved}))
	rec, err := s.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, domain.KycApproved, rec.Status)
}

func TestEventBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewEventBus()

	a, err := bus.Subscribe(ctx, "ch")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "ch")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))

	assert.Equal(t, []byte("hello"), <-a)
	assert.Equal(t, []byte("hello"), <-b)

	cancel()
	_, open := <-a
	assert.False(t, open)
}
