// Package portfolio keeps the investor's per-asset positions, assembled from
// authoritative contract reads, and answers history and summary queries.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/metrics"
	"github.com/alanyoungcy/rwavault/internal/payout"
)

// Options configures a Store. Every field is optional.
type Options struct {
	// Cache is a shared position cache consulted before the chain.
	Cache    domain.PositionCache
	CacheTTL time.Duration
	// LockedAssets are administratively frozen regardless of on-chain state.
	LockedAssets []string
	// Assets are tracked from the start, in display order.
	Assets  []string
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Store holds one AssetPosition per asset for the reader's account. Every
// write replaces the whole record, so concurrent readers never observe a
// half-updated position.
type Store struct {
	reader  domain.AssetReader
	txs     domain.TransactionStore
	cache   domain.PositionCache
	ttl     time.Duration
	locked  map[string]bool
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.RWMutex
	positions map[string]domain.AssetPosition
	tracked   []string
	// gens is bumped by Invalidate; a load started under an older
	// generation must not write its result back.
	gens     map[string]uint64
	maturity map[string]time.Time

	refreshes singleflight.Group
}

// New creates a Store reading through reader.
func New(reader domain.AssetReader, txs domain.TransactionStore, opts Options, logger *slog.Logger) *Store {
	s := &Store{
		reader:    reader,
		txs:       txs,
		cache:     opts.Cache,
		ttl:       opts.CacheTTL,
		locked:    make(map[string]bool, len(opts.LockedAssets)),
		metrics:   opts.Metrics,
		now:       opts.Now,
		logger:    logger.With(slog.String("component", "portfolio")),
		positions: make(map[string]domain.AssetPosition),
		gens:      make(map[string]uint64),
		maturity:  make(map[string]time.Time),
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, id := range opts.LockedAssets {
		s.locked[id] = true
	}
	for _, id := range opts.Assets {
		s.track(id)
	}
	return s
}

// Account is the investor address positions belong to.
func (s *Store) Account() string {
	return s.reader.Account()
}

func (s *Store) track(assetID string) {
	for _, id := range s.tracked {
		if id == assetID {
			return
		}
	}
	s.tracked = append(s.tracked, assetID)
}

// GetPosition returns the held position, then the shared cache, and only
// then reads the chain.
func (s *Store) GetPosition(ctx context.Context, assetID string) (domain.AssetPosition, error) {
	s.mu.RLock()
	pos, ok := s.positions[assetID]
	gen := s.gens[assetID]
	s.mu.RUnlock()
	if ok {
		return pos, nil
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.Account(), assetID)
		switch {
		case err == nil:
			s.metrics.ObserveRefresh("cache_hit")
			s.putIfCurrent(cached, gen)
			return cached, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "position cache read failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.Refresh(ctx, assetID)
}

// Refresh re-reads balance, staked balance, rewards and terms concurrently
// and replaces the held position. Concurrent refreshes of one asset share a
// single set of reads, unless an Invalidate separates them.
func (s *Store) Refresh(ctx context.Context, assetID string) (domain.AssetPosition, error) {
	gen := s.generation(assetID)
	key := assetID + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.refreshes.Do(key, func() (any, error) {
		return s.load(ctx, assetID, gen)
	})
	if err != nil {
		s.metrics.ObserveRefresh("error")
		return domain.AssetPosition{}, err
	}
	s.metrics.ObserveRefresh("ok")
	return v.(domain.AssetPosition), nil
}

func (s *Store) load(ctx context.Context, assetID string, gen uint64) (domain.AssetPosition, error) {
	var (
		balance, staked, rewards decimal.Decimal
		terms                    domain.AssetTerms
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = s.reader.ReadBalance(gctx, assetID)
		return err
	})
	g.Go(func() (err error) {
		staked, err = s.reader.ReadStaked(gctx, assetID)
		return err
	})
	g.Go(func() (err error) {
		rewards, err = s.reader.ReadRewards(gctx, assetID)
		return err
	})
	g.Go(func() (err error) {
		terms, err = s.reader.ReadAssetTerms(gctx, assetID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AssetPosition{}, fmt.Errorf("portfolio: refresh %s: %w", assetID, err)
	}
	if err := terms.Validate(); err != nil {
		return domain.AssetPosition{}, fmt.Errorf("portfolio: refresh %s: %w", assetID, err)
	}

	pos := domain.AssetPosition{
		AssetID:        assetID,
		Account:        s.Account(),
		Balance:        balance,
		StakedBalance:  staked,
		AccruedRewards: rewards,
		MaturityDate:   terms.MaturityDate,
		DiscountRate:   terms.DiscountRate,
		RedemptionRate: terms.RedemptionRate,
		IsLocked:       !terms.IsActive || s.locked[assetID],
		Terms:          terms,
		RefreshedAt:    s.now().UTC(),
	}

	// Maturity is fixed once first observed.
	if kept := s.pinMaturity(assetID, pos.MaturityDate); !kept.Equal(pos.MaturityDate) {
		s.logger.WarnContext(ctx, "maturity date changed on chain, keeping first value",
			slog.String("asset_id", assetID),
			slog.Time("kept", kept),
			slog.Time("reported", pos.MaturityDate),
		)
		pos.MaturityDate = kept
		pos.Terms.MaturityDate = kept
	}

	if !s.putIfCurrent(pos, gen) {
		s.logger.DebugContext(ctx, "dropping refresh overtaken by invalidation",
			slog.String("asset_id", assetID),
		)
		return pos, nil
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, pos, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "position cache write failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		} else if s.generation(assetID) != gen {
			// Invalidated while writing; do not leave the old read behind.
			_ = s.cache.Invalidate(ctx, s.Account(), assetID)
		}
	}
	return pos, nil
}

func (s *Store) generation(assetID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[assetID]
}

// putIfCurrent stores pos unless assetID was invalidated after gen was
// read.
func (s *Store) putIfCurrent(pos domain.AssetPosition, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[pos.AssetID] != gen {
		return false
	}
	s.positions[pos.AssetID] = pos
	s.track(pos.AssetID)
	return true
}

func (s *Store) pinMaturity(assetID string, seen time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if first, ok := s.maturity[assetID]; ok {
		return first
	}
	if !seen.IsZero() {
		s.maturity[assetID] = seen
	}
	return seen
}

// Invalidate drops the held and the cached position for assetID. The asset
// stays tracked.
func (s *Store) Invalidate(ctx context.Context, assetID string) {
	s.mu.Lock()
	delete(s.positions, assetID)
	s.gens[assetID]++
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, s.Account(), assetID); err != nil {
			s.logger.WarnContext(ctx, "position cache invalidate failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Positions returns every tracked position in tracking order, loading the
// ones not held yet.
func (s *Store) Positions(ctx context.Context) ([]domain.AssetPosition, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.tracked...)
	s.mu.RUnlock()

	out := make([]domain.AssetPosition, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			pos, err := s.GetPosition(gctx, id)
			if err != nil {
				return err
			}
			out[i] = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransactions returns the account's history newest first. An empty
// assetID lists every asset.
func (s *Store) ListTransactions(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	txs, err := s.txs.List(ctx, domain.TransactionFilter{Account: s.Account(), AssetID: assetID}, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio: list transactions: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.After(txs[j].Timestamp) })
	return txs, nil
}

// Summary totals the account's holdings. Cash-out value covers positions not
// yet matured, redemption value covers matured ones; both are indicative.
func (s *Store) Summary(ctx context.Context) (domain.PortfolioSummary, error) {
	positions, err := s.Positions(ctx)
	if err != nil {
		return domain.PortfolioSummary{}, err
	}

	sum := domain.PortfolioSummary{
		Account:   s.Account(),
		Positions: positions,
	}

	buys, err := s.txs.List(ctx, domain.TransactionFilter{
		Account: s.Account(),
		Type:    domain.ActionBuy,
		Status:  domain.TxCompleted,
	}, domain.ListOpts{})
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio: summary: %w", err)
	}
	for _, tx := range buys {
		sum.TotalInvested = sum.TotalInvested.Add(tx.AmountIn)
	}

	now := s.now()
	for _, pos := range positions {
		sum.TotalTokens = sum.TotalTokens.Add(pos.Balance)
		sum.TotalStaked = sum.TotalStaked.Add(pos.StakedBalance)
		sum.TotalRewards = sum.TotalRewards.Add(pos.AccruedRewards)
		if !pos.Balance.IsPositive() {
			continue
		}
		if pos.IsMatured(now) {
			if v, err := payout.RedemptionAmount(pos.Balance, pos.RedemptionRate); err == nil {
				sum.RedemptionValue = sum.RedemptionValue.Add(payout.RoundPayout(v))
			}
			continue
		}
		if v, err := payout.EarlyCashOutAmount(pos.Balance, pos.DiscountRate); err == nil {
			sum.CashOutValue = sum.CashOutValue.Add(payout.RoundPayout(v))
		}
	}
	return sum, nil
}
