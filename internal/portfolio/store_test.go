package portfolio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/store/memory"
)

const account = "0xinvestor"

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeReader struct {
	mu       sync.Mutex
	terms    map[string]domain.AssetTerms
	balances map[string]decimal.Decimal
	staked   map[string]decimal.Decimal
	termsErr error
	release  chan struct{} // when set, ReadAssetTerms blocks on it
	reads    atomic.Int32
	balReads atomic.Int32
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		terms:    map[string]domain.AssetTerms{},
		balances: map[string]decimal.Decimal{},
		staked:   map[string]decimal.Decimal{},
	}
}

func (f *fakeReader) list(id string, maturity time.Time, balance string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms[id] = domain.AssetTerms{
		AssetID:        id,
		TokenPrice:     dec("10"),
		FundingGoal:    dec("100000"),
		IsActive:       true,
		MaturityDate:   maturity,
		DiscountRate:   dec("15"),
		RedemptionRate: dec("110"),
	}
	f.balances[id] = dec(balance)
}

func (f *fakeReader) Account() string { return account }

func (f *fakeReader) ReadBalance(_ context.Context, id string) (decimal.Decimal, error) {
	defer f.balReads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id], nil
}

func (f *fakeReader) ReadStaked(_ context.Context, id string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staked[id], nil
}

func (f *fakeReader) ReadRewards(context.Context, string) (decimal.Decimal, error) {
	return dec("1.5"), nil
}

func (f *fakeReader) ReadAssetTerms(ctx context.Context, id string) (domain.AssetTerms, error) {
	f.reads.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.AssetTerms{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.termsErr != nil {
		return domain.AssetTerms{}, f.termsErr
	}
	t, ok := f.terms[id]
	if !ok {
		return domain.AssetTerms{}, domain.ErrNotFound
	}
	return t, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.AssetPosition
}

func (m *mapCache) Set(_ context.Context, pos domain.AssetPosition, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[pos.AssetID] = pos
	return nil
}

func (m *mapCache) Get(_ context.Context, _, id string) (domain.AssetPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.data[id]
	if !ok {
		return domain.AssetPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *mapCache) Invalidate(_ context.Context, _, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func newStore(r *fakeReader, txs domain.TransactionStore, opts Options) *Store {
	opts.Now = func() time.Time { return now }
	return New(r, txs, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRefreshAssemblesPosition(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now.AddDate(1, 0, 0), "200")
	r.staked["prop-1"] = dec("50")

	s := newStore(r, memory.NewTransactionStore(), Options{LockedAssets: []string{"prop-2"}})
	pos, err := s.Refresh(context.Background(), "prop-1")
	require.NoError(t, err)

	assert.Equal(t, account, pos.Account)
	assert.True(t, pos.Balance.Equal(dec("200")))
	assert.True(t, pos.StakedBalance.Equal(dec("50")))
	assert.True(t, pos.AccruedRewards.Equal(dec("1.5")))
	assert.True(t, pos.DiscountRate.Equal(dec("15")))
	assert.False(t, pos.IsLocked)
	assert.False(t, pos.IsMatured(now))
	assert.Equal(t, now, pos.RefreshedAt)
}

func TestLockedFromConfigOrInactiveTerms(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "1")
	r.list("prop-2", now, "1")
	inactive := r.terms["prop-2"]
	inactive.IsActive = false
	r.terms["prop-2"] = inactive

	s := newStore(r, memory.NewTransactionStore(), Options{LockedAssets: []string{"prop-1"}})
	p1, err := s.GetPosition(context.Background(), "prop-1")
	require.NoError(t, err)
	p2, err := s.GetPosition(context.Background(), "prop-2")
	require.NoError(t, err)
	assert.True(t, p1.IsLocked)
	assert.True(t, p2.IsLocked)
}

func TestGetPositionServesHeldCopyUntilInvalidated(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "10")
	s := newStore(r, memory.NewTransactionStore(), Options{})
	ctx := context.Background()

	_, err := s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	_, err = s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.reads.Load())

	r.balances["prop-1"] = dec("4")
	s.Invalidate(ctx, "prop-1")
	pos, err := s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.reads.Load())
	assert.True(t, pos.Balance.Equal(dec("4")))
}

func TestSharedCacheIsConsultedAndInvalidated(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "10")
	cache := &mapCache{data: map[string]domain.AssetPosition{}}
	ctx := context.Background()

	warm := newStore(r, memory.NewTransactionStore(), Options{Cache: cache, CacheTTL: time.Minute})
	_, err := warm.Refresh(ctx, "prop-1")
	require.NoError(t, err)

	cold := newStore(r, memory.NewTransactionStore(), Options{Cache: cache})
	_, err = cold.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.reads.Load(), "second store should hit the shared cache")

	cold.Invalidate(ctx, "prop-1")
	_, err = cache.Get(ctx, account, "prop-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentRefreshesShareOneRead(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "10")
	r.release = make(chan struct{})
	s := newStore(r, memory.NewTransactionStore(), Options{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(context.Background(), "prop-1")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return r.reads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.LessOrEqual(t, r.reads.Load(), int32(2))
}

func TestRefreshErrorKeepsPreviousPosition(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "10")
	s := newStore(r, memory.NewTransactionStore(), Options{})
	ctx := context.Background()

	_, err := s.Refresh(ctx, "prop-1")
	require.NoError(t, err)

	r.termsErr = domain.ErrNetworkFailure
	_, err = s.Refresh(ctx, "prop-1")
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)

	pos, err := s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.True(t, pos.Balance.Equal(dec("10")))
}

func TestMaturityDateIsPinned(t *testing.T) {
	r := newFakeReader()
	first := now.Add(-time.Hour)
	r.list("prop-1", first, "10")
	s := newStore(r, memory.NewTransactionStore(), Options{})
	ctx := context.Background()

	_, err := s.Refresh(ctx, "prop-1")
	require.NoError(t, err)

	r.list("prop-1", now.AddDate(1, 0, 0), "10")
	pos, err := s.Refresh(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, first, pos.MaturityDate)
	assert.True(t, pos.IsMatured(now))

	// the pin outlives invalidation
	s.Invalidate(ctx, "prop-1")
	pos, err = s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, first, pos.MaturityDate)
}

func TestRefreshAfterInvalidateDoesNotJoinOlderRead(t *testing.T) {
	r := newFakeReader()
	r.list("prop-1", now, "100")
	r.release = make(chan struct{})
	cache := &mapCache{data: map[string]domain.AssetPosition{}}
	s := newStore(r, memory.NewTransactionStore(), Options{Cache: cache})
	ctx := context.Background()

	// A UI read starts and sees the balance before the action settles.
	uiDone := make(chan domain.AssetPosition, 1)
	go func() {
		pos, err := s.Refresh(ctx, "prop-1")
		assert.NoError(t, err)
		uiDone <- pos
	}()
	require.Eventually(t, func() bool {
		return r.balReads.Load() >= 1 && r.reads.Load() >= 1
	}, time.Second, time.Millisecond)

	// The action settles on chain and the ledger reloads.
	r.mu.Lock()
	r.balances["prop-1"] = dec("90")
	r.mu.Unlock()
	s.Invalidate(ctx, "prop-1")

	reloadDone := make(chan domain.AssetPosition, 1)
	go func() {
		pos, err := s.Refresh(ctx, "prop-1")
		assert.NoError(t, err)
		reloadDone <- pos
	}()
	require.Eventually(t, func() bool { return r.reads.Load() >= 2 }, time.Second, time.Millisecond)
	close(r.release)

	reloaded := <-reloadDone
	stale := <-uiDone
	assert.Equal(t, "90", reloaded.Balance.String())
	assert.Equal(t, "100", stale.Balance.String())

	held, err := s.GetPosition(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "90", held.Balance.String())

	cached, err := cache.Get(ctx, account, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "90", cached.Balance.String())
}

func TestListTransactionsNewestFirst(t *testing.T) {
	txs := memory.NewTransactionStore()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, txs.Append(ctx, domain.Transaction{
			ID: id, Account: account, AssetID: "prop-1", Type: domain.ActionStake,
			Timestamp: now.Add(time.Duration(i) * time.Minute), Status: domain.TxCompleted,
		}))
	}
	require.NoError(t, txs.Append(ctx, domain.Transaction{
		ID: "other", Account: "0xsomeoneelse", AssetID: "prop-1", Timestamp: now,
	}))

	s := newStore(newFakeReader(), txs, Options{})
	got, err := s.ListTransactions(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestSummary(t *testing.T) {
	r := newFakeReader()
	r.list("open", now.AddDate(1, 0, 0), "1000")
	r.list("matured", now.AddDate(0, 0, -1), "500")
	r.staked["open"] = dec("25")

	txs := memory.NewTransactionStore()
	ctx := context.Background()
	require.NoError(t, txs.Append(ctx, domain.Transaction{
		ID: "buy-1", Account: account, AssetID: "open", Type: domain.ActionBuy,
		AmountIn: dec("10000"), Timestamp: now, Status: domain.TxCompleted,
	}))
	require.NoError(t, txs.Append(ctx, domain.Transaction{
		ID: "buy-2", Account: account, AssetID: "open", Type: domain.ActionBuy,
		AmountIn: dec("999"), Timestamp: now, Status: domain.TxFailed,
	}))

	s := newStore(r, txs, Options{Assets: []string{"open", "matured"}})
	sum, err := s.Summary(ctx)
	require.NoError(t, err)

	require.Len(t, sum.Positions, 2)
	assert.Equal(t, "open", sum.Positions[0].AssetID)
	assert.Equal(t, "10000", sum.TotalInvested.String())
	assert.Equal(t, "1500", sum.TotalTokens.String())
	assert.Equal(t, "25", sum.TotalStaked.String())
	assert.Equal(t, "850", sum.CashOutValue.String())
	assert.Equal(t, "550", sum.RedemptionValue.String())
}

func TestPositionsPropagatesErrors(t *testing.T) {
	r := newFakeReader()
	r.termsErr = errors.New("boom")
	s := newStore(r, memory.NewTransactionStore(), Options{Assets: []string{"prop-1"}})
	_, err := s.Positions(context.Background())
	assert.Error(t, err)
}
