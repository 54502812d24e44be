package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

func TestStores(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()

	t.Run("transactions", func(t *testing.T) {
		s := NewTransactionStore(client.Pool())
		t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

		first := domain.Transaction{
			ID:        uuid.NewString(),
			AssetID:   "prop-1",
			Account:   "0xabc",
			Type:      domain.ActionCashOut,
			AmountIn:  decimal.RequireFromString("1000.000000000000000001"),
			Timestamp: t0,
			Status:    domain.TxPending,
		}
		second := first
		second.ID = uuid.NewString()
		second.Type = domain.ActionStake
		second.Timestamp = t0.Add(time.Minute)

		require.NoError(t, s.Append(ctx, first))
		require.NoError(t, s.Append(ctx, second))
		assert.ErrorIs(t, s.Append(ctx, first), domain.ErrAlreadyExists)

		done, err := s.Finalize(ctx, first.ID, domain.TxFinalization{
			Status:    domain.TxCompleted,
			AmountOut: decimal.RequireFromString("850.00"),
			TxHash:    "0xfeed",
			At:        t0.Add(2 * time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TxCompleted, done.Status)
		assert.Equal(t, "850", done.AmountOut.String())
		assert.Equal(t, "1000.000000000000000001", done.AmountIn.String())

		_, err = s.Finalize(ctx, first.ID, domain.TxFinalization{Status: domain.TxFailed, At: t0})
		assert.ErrorIs(t, err, domain.ErrAlreadyFinal)

		_, err = s.Finalize(ctx, uuid.NewString(), domain.TxFinalization{Status: domain.TxFailed, At: t0})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		list, err := s.List(ctx, domain.TransactionFilter{Account: "0xabc", AssetID: "prop-1"}, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)

		completed, err := s.List(ctx, domain.TransactionFilter{Status: domain.TxCompleted}, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "0xfeed", completed[0].TxHash)
	})

	t.Run("kyc", func(t *testing.T) {
		s := NewKycStore(client.Pool())

		_, err := s.Get(ctx, "0xDEF")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, s.Upsert(ctx, domain.KycRecord{Account: "0xDEF", Status: domain.KycPendingReview}))
		require.NoError(t, s.Upsert(ctx, domain.KycRecord{Account: "0xdef", Status: domain.KycApproved}))

		rec, err := s.Get(ctx, "0xDeF")
		require.NoError(t, err)
		assert.Equal(t, domain.KycApproved, rec.Status)

		assert.Error(t, s.Upsert(ctx, domain.KycRecord{Account: "0x1", Status: "MAYBE"}))
	})

	t.Run("audit", func(t *testing.T) {
		s := NewAuditStore(client.Pool())
		require.NoError(t, s.Log(ctx, "gate_rejected", map[string]any{"asset_id": "prop-1"}))
		require.NoError(t, s.Log(ctx, "action_completed", map[string]any{"asset_id": "prop-1"}))

		entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "action_completed", entries[0].Event)
		assert.Equal(t, "prop-1", entries[0].Detail["asset_id"])
	})
}
