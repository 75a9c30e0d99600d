package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
	"github.com/alanyoungcy/kaspianobot/internal/executor"
	"github.com/alanyoungcy/kaspianobot/internal/listing"
	"github.com/alanyoungcy/kaspianobot/internal/mail"
	"github.com/alanyoungcy/kaspianobot/internal/marketplace"
	"github.com/alanyoungcy/kaspianobot/internal/notify"
	"github.com/alanyoungcy/kaspianobot/internal/recorder"
	"github.com/alanyoungcy/kaspianobot/internal/server"
	"github.com/alanyoungcy/kaspianobot/internal/server/handler"
	"github.com/alanyoungcy/kaspianobot/internal/server/ws"
)

// FullMode polls the inbox, buys and transfers every queued order, and serves
// the status API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	queue := a.newQueue(deps)
	hub := a.newHub(deps)
	disp, rec, err := a.newDispatcher(deps, queue, a.publisher(deps, hub))
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startSession(ctx, g, deps)
	a.startSource(ctx, g, deps, queue)
	g.Go(func() error { return disp.Run(ctx) })
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, hub, queue, disp, rec)

	return g.Wait()
}

// MonitorMode polls the inbox and logs the orders it would trade. Nothing is
// bought.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	g, ctx := errgroup.WithContext(ctx)

	queue := a.newQueue(deps)
	hub := a.newHub(deps)

	a.startSource(ctx, g, deps, queue)
	g.Go(func() error {
		return a.drainForMonitor(ctx, queue, a.cfg.Trading.DispatchInterval.Duration)
	})
	a.startHTTPServer(ctx, g, deps, hub, queue, nil, nil)

	return g.Wait()
}

// DispatchMode runs the trade loop without an inbox; orders arrive through
// POST /api/orders.
func (a *App) DispatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dispatch mode")
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; dispatch mode has no way to receive orders")
	}
	g, ctx := errgroup.WithContext(ctx)

	queue := a.newQueue(deps)
	hub := a.newHub(deps)
	disp, rec, err := a.newDispatcher(deps, queue, a.publisher(deps, hub))
	if err != nil {
		return fmt.Errorf("dispatch mode: %w", err)
	}

	a.startSession(ctx, g, deps)
	g.Go(func() error { return disp.Run(ctx) })
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, hub, queue, disp, rec)

	return g.Wait()
}

// newQueue builds the order queue and hooks order_enqueued notifications.
func (a *App) newQueue(deps *Dependencies) *executor.OrderQueue {
	queue := executor.NewOrderQueue(deps.Processed)
	queue.OnEnqueue(func(ctx context.Context, rec domain.SaleRecord) {
		msg := fmt.Sprintf("%d %s at %s KAS (order %s)", rec.Quantity, rec.TokenSymbol, rec.PriceKAS, orDash(rec.OrderID))
		_ = deps.Notifier.Notify(ctx, notify.EventOrderEnqueued, "Order queued", msg)
	})
	return queue
}

// newHub returns the WebSocket hub, or nil when the server is off.
func (a *App) newHub(deps *Dependencies) *ws.Hub {
	if !a.cfg.Server.Enabled {
		return nil
	}
	return ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
}

// publisher picks where lifecycle events go: Redis when configured, so other
// processes see them too, else straight to the local hub.
func (a *App) publisher(deps *Dependencies, hub *ws.Hub) domain.EventPublisher {
	if deps.SignalBus != nil {
		return deps.SignalBus
	}
	if hub != nil {
		return hub
	}
	return nil
}

// newDispatcher assembles negotiator, transfer, recorder and listing trigger
// around the queue.
func (a *App) newDispatcher(deps *Dependencies, queue *executor.OrderQueue, events domain.EventPublisher) (*executor.Dispatcher, *recorder.Recorder, error) {
	cfg := a.cfg

	markup, err := decimal.NewFromString(cfg.Recorder.Markup)
	if err != nil {
		return nil, nil, fmt.Errorf("recorder markup %q: %w", cfg.Recorder.Markup, err)
	}
	rec := recorder.New(recorder.Config{
		ListingConfigPath:  cfg.Recorder.ListingConfigPath,
		TransactionLogPath: cfg.Recorder.TransactionLogPath,
		Markup:             markup,
		BlobPrefix:         cfg.S3.Prefix,
	}, a.logger)
	if deps.TradeStore != nil {
		rec.SetTradeStore(deps.TradeStore)
	}
	if deps.AuditStore != nil {
		rec.SetAuditStore(deps.AuditStore)
	}
	if deps.BlobWriter != nil {
		rec.SetBlobWriter(deps.BlobWriter)
	}
	if events != nil {
		rec.SetEventPublisher(events)
	}

	timing := marketplace.Timing{
		StepDelay:      cfg.Bot.StepDelay.Duration,
		ActionDelay:    cfg.Bot.ActionDelay.Duration,
		VerifyAttempts: cfg.Bot.VerifyAttempts,
		VerifyInterval: cfg.Bot.VerifyInterval.Duration,
	}
	neg := marketplace.NewNegotiator(deps.Session, marketplace.NegotiatorConfig{
		Timing:        timing,
		MaxTotalPrice: decimal.NewFromFloat(cfg.Trading.MaxTotalPriceKAS),
		DryRun:        cfg.Trading.DryRun,
	}, a.logger)

	var trigger domain.ListingTrigger
	if cfg.Listing.Enabled {
		runner := listing.NewRunner(cfg.Listing.Command, cfg.Listing.Dir, cfg.Listing.Timeout.Duration, a.logger)
		a.closers = append(a.closers, runner.Wait)
		trigger = runner
	}
	xfer := marketplace.NewTransferExecutor(deps.Session, timing, cfg.Trading.DestinationAddress, trigger, a.logger)

	disp := executor.NewDispatcher(queue, neg, xfer, rec, executor.DispatcherConfig{
		Interval:          cfg.Trading.DispatchInterval.Duration,
		PostPurchaseDelay: cfg.Trading.PostPurchaseDelay.Duration,
		MaxUnitPrice:      decimal.NewFromFloat(cfg.Trading.MaxUnitPriceKAS),
	}, a.logger)
	disp.SetAlerter(deps.Notifier)
	if deps.LockManager != nil {
		disp.SetLockManager(deps.LockManager)
	}
	if events != nil {
		disp.SetEventPublisher(events)
	}

	a.logger.Info("trading limits",
		slog.Float64("max_unit_price_kas", cfg.Trading.MaxUnitPriceKAS),
		slog.String("max_total_price_kas", neg.Ceiling().String()),
		slog.Bool("dry_run", cfg.Trading.DryRun),
	)
	return disp, rec, nil
}

func (a *App) startSession(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Session.Run(ctx) })
}

func (a *App) startSource(ctx context.Context, g *errgroup.Group, deps *Dependencies, queue *executor.OrderQueue) {
	src := mail.NewSource(deps.Mailbox, queue, mail.SourceConfig{
		Sender:       a.cfg.Gmail.Sender,
		Labels:       a.cfg.Gmail.Labels,
		PollInterval: a.cfg.Gmail.PollInterval.Duration,
	}, a.logger)
	g.Go(func() error { return src.Run(ctx) })
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error { return deps.Archiver.Run(ctx) })
}

// drainForMonitor pops queued orders and logs them without trading.
func (a *App) drainForMonitor(ctx context.Context, queue *executor.OrderQueue, every time.Duration) error {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				rec, ok := queue.Pop()
				if !ok {
					break
				}
				a.logger.InfoContext(ctx, "monitor: order observed, not traded",
					slog.String("token", rec.TokenSymbol),
					slog.Int64("quantity", rec.Quantity),
					slog.String("price_kas", rec.PriceKAS.String()),
					slog.String("order_id", rec.OrderID),
				)
			}
		}
	}
}

// startHTTPServer serves the status API and the event stream. disp and rec
// are nil in monitor mode.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	queue *executor.OrderQueue,
	disp *executor.Dispatcher,
	rec *recorder.Recorder,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Orders: handler.NewOrderHandler(queue, a.logger),
	}
	if disp != nil {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, disp, deps.Processed, a.logger)
	} else {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, nil, deps.Processed, a.logger)
	}
	if rec != nil {
		handlers.Trades = handler.NewTradeHandler(rec, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
