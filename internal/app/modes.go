package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rwavault/internal/eligibility"
	"github.com/alanyoungcy/rwavault/internal/ledger"
	"github.com/alanyoungcy/rwavault/internal/portfolio"
	"github.com/alanyoungcy/rwavault/internal/server"
	"github.com/alanyoungcy/rwavault/internal/server/handler"
	"github.com/alanyoungcy/rwavault/internal/server/ws"
)

// shutdownGrace bounds how long in-flight requests get after cancellation.
const shutdownGrace = 10 * time.Second

// core is the portfolio and ledger built over a set of dependencies.
type core struct {
	portfolio *portfolio.Store
	ledger    *ledger.Ledger
}

func (a *App) buildCore(deps *Dependencies) core {
	lc := a.cfg.Ledger
	store := portfolio.New(deps.Chain, deps.TxStore, portfolio.Options{
		Cache:        deps.PositionCache,
		CacheTTL:     a.cfg.Redis.PositionTTL.Duration,
		LockedAssets: lc.LockedAssets,
		Assets:       deps.Assets,
		Metrics:      deps.Metrics,
	}, a.logger)

	l := ledger.New(ledger.Config{
		RequireKYC:     lc.RequireKYC,
		CallTimeout:    lc.CallTimeout.Duration,
		PlatformFeePct: decimal.NewFromFloat(lc.PlatformFeePct),
		ExpectedROIPct: decimal.NewFromFloat(lc.ExpectedROIPct),
		Limits: eligibility.Limits{
			MinInvestment: decimal.NewFromFloat(lc.MinInvestment),
			MaxShare:      decimal.NewFromFloat(lc.MaxInvestmentShare),
		},
	}, ledger.Deps{
		Chain:     deps.Chain,
		Portfolio: store,
		Txs:       deps.TxStore,
		Kyc:       deps.KycStore,
		Audit:     deps.AuditStore,
		Bus:       deps.EventBus,
		Locks:     deps.LockManager,
		Metrics:   deps.Metrics,
	}, a.logger)

	return core{portfolio: store, ledger: l}
}

// buildHandlers assembles the HTTP surface over c.
func (a *App) buildHandlers(deps *Dependencies, c core) server.Handlers {
	return server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(c.portfolio, a.logger),
		Actions:   handler.NewActionHandler(c.ledger, a.logger),
		Kyc:       handler.NewKycHandler(c.ledger, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
}

// ServeMode runs the ledger behind the HTTP API with WebSocket push and
// notifications. It serves both the chain-backed and the simulated stack.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("mode", a.cfg.Mode),
		slog.String("account", deps.Account),
		slog.Any("assets", deps.Assets),
	)

	c := a.buildCore(deps)
	g, ctx := errgroup.WithContext(ctx)

	// Warm the portfolio; an unreachable asset is logged, not fatal.
	g.Go(func() error {
		if _, err := c.portfolio.Positions(ctx); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "initial position load failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return ignoreCanceled(deps.Notifier.Run(ctx, deps.EventBus))
		})
	}

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		<-ctx.Done()
		return ignoreCanceled(g.Wait())
	}

	hub := ws.NewHub(deps.EventBus, ws.Config{
		Mode:           a.cfg.Mode,
		Account:        deps.Account,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RatePerSec:  a.cfg.Server.RatePerSec,
		RateBurst:   a.cfg.Server.RateBurst,
	}, a.buildHandlers(deps, c), hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return ignoreCanceled(g.Wait())
}

// ArchiveMode exports each of the last LookbackDays whole UTC days to object
// storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires object storage")
	}
	done := make(map[string]bool)
	if !a.cfg.Archive.Overwrite {
		days, err := deps.Archiver.ArchivedDays(ctx)
		if err != nil {
			return fmt.Errorf("app: list archive: %w", err)
		}
		for _, d := range days {
			done[d.Format(time.DateOnly)] = true
		}
	}

	today := time.Now().UTC()
	var total int64
	skipped := 0
	for back := a.cfg.Archive.LookbackDays; back >= 1; back-- {
		day := today.AddDate(0, 0, -back)
		if done[day.Format(time.DateOnly)] {
			skipped++
			continue
		}
		n, err := deps.Archiver.ArchiveDay(ctx, day)
		if err != nil {
			return fmt.Errorf("app: archive %s: %w", day.Format(time.DateOnly), err)
		}
		total += n
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("days", a.cfg.Archive.LookbackDays),
		slog.Int("already_archived", skipped),
		slog.Int64("transactions", total),
	)
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
