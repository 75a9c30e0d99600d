package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
	"github.com/alanyoungcy/kaspianobot/internal/notify"
)

// DispatchLockKey guards the chat session across processes.
const DispatchLockKey = "dispatch:chat-session"

// TradeEventsChannel is the channel lifecycle events are published on.
const TradeEventsChannel = "trades"

// Negotiator buys the cheapest acceptable offer for a token.
type Negotiator interface {
	Negotiate(ctx context.Context, symbol string, maxUnitPrice decimal.Decimal) (domain.MarketOffer, error)
}

// Transferer moves the purchased balance to the destination wallet.
type Transferer interface {
	Transfer(ctx context.Context, symbol string) error
}

// Recorder persists a completed purchase.
type Recorder interface {
	Record(ctx context.Context, trade domain.CompletedTrade) (domain.TransactionLogEntry, error)
}

// Alerter sends operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DispatcherConfig holds the dispatch cadence and limits.
type DispatcherConfig struct {
	Interval          time.Duration
	PostPurchaseDelay time.Duration
	MaxUnitPrice      decimal.Decimal
	LockTTL           time.Duration
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Processing bool   `json:"processing"`
	Current    string `json:"current,omitempty"`
	QueueLen   int    `json:"queue_len"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
}

// TradeEvent is published for every step outcome of a trade.
type TradeEvent struct {
	Event     string    `json:"event"`
	Token     string    `json:"token"`
	OrderID   string    `json:"order_id,omitempty"`
	Quantity  int64     `json:"quantity,omitempty"`
	PriceKAS  string    `json:"price_kas,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher pulls one order at a time off the queue and drives it through
// purchase, recording and transfer. At most one trade is in flight.
type Dispatcher struct {
	queue      *OrderQueue
	negotiator Negotiator
	transferer Transferer
	recorder   Recorder
	cfg        DispatcherConfig
	logger     *slog.Logger

	locks   domain.LockManager
	alerts  Alerter
	events  domain.EventPublisher
	sleepFn func(ctx context.Context, d time.Duration) error

	processing atomic.Bool
	current    atomic.Value // string
	completed  atomic.Int64
	failed     atomic.Int64
}

// NewDispatcher creates a Dispatcher. Optional collaborators are attached with
// the Set* methods before Run.
func NewDispatcher(
	queue *OrderQueue,
	negotiator Negotiator,
	transferer Transferer,
	recorder Recorder,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	d := &Dispatcher{
		queue:      queue,
		negotiator: negotiator,
		transferer: transferer,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "dispatcher")),
		sleepFn:    sleep,
	}
	d.current.Store("")
	return d
}

// SetLockManager enables the cross-process chat-session guard.
func (d *Dispatcher) SetLockManager(locks domain.LockManager) { d.locks = locks }

// SetAlerter enables operator notifications.
func (d *Dispatcher) SetAlerter(a Alerter) { d.alerts = a }

// SetEventPublisher enables trade lifecycle events.
func (d *Dispatcher) SetEventPublisher(p domain.EventPublisher) { d.events = p }

// Status returns the current dispatcher state.
func (d *Dispatcher) Status() Status {
	return Status{
		Processing: d.processing.Load(),
		Current:    d.current.Load().(string),
		QueueLen:   d.queue.Len(),
		Completed:  d.completed.Load(),
		Failed:     d.failed.Load(),
	}
}

// Run dispatches orders until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		slog.Duration("interval", d.cfg.Interval),
		slog.String("max_unit_price", d.cfg.MaxUnitPrice.String()),
	)
	defer d.logger.Info("dispatcher stopped")

	for {
		d.ProcessNext(ctx)

		if err := d.sleepFn(ctx, d.cfg.Interval); err != nil {
			return err
		}
	}
}

// ProcessNext runs a single dispatch step. It reports whether an order was
// taken off the queue.
func (d *Dispatcher) ProcessNext(ctx context.Context) bool {
	if d.processing.Load() || d.queue.Len() == 0 {
		return false
	}

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, DispatchLockKey, d.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				d.logger.Debug("chat session busy in another process, skipping tick")
			} else {
				d.logger.Warn("dispatch lock failed", slog.String("error", err.Error()))
			}
			return false
		}
		defer unlock()
	}

	rec, ok := d.queue.Pop()
	if !ok {
		return false
	}

	d.processing.Store(true)
	d.current.Store(rec.TokenSymbol)
	defer func() {
		d.current.Store("")
		d.processing.Store(false)
	}()

	if err := d.runTrade(ctx, rec); err != nil {
		d.failed.Add(1)
	} else {
		d.completed.Add(1)
	}
	return true
}

// runTrade executes the pipeline for one record. The record is never put back
// on the queue, whatever the outcome.
func (d *Dispatcher) runTrade(ctx context.Context, rec domain.SaleRecord) (err error) {
	log := d.logger.With(
		slog.String("token", rec.TokenSymbol),
		slog.String("order_id", rec.OrderID),
		slog.Int64("quantity", rec.Quantity),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("trade panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("executor: panic: %v", r)
		}
	}()

	log.Info("processing order", slog.Int("remaining", d.queue.Len()))

	// 1. Purchase.
	offer, err := d.negotiator.Negotiate(ctx, rec.TokenSymbol, d.cfg.MaxUnitPrice)
	if err != nil {
		log.Warn("purchase failed", slog.String("error", err.Error()))
		d.emit(ctx, notify.EventTradeFailed, rec, nil, err)
		return err
	}
	log = log.With(
		slog.String("unit_price", offer.UnitPriceKAS.String()),
		slog.String("total_price", offer.TotalPriceKAS.String()),
	)
	log.Info("purchase verified", slog.String("offer", offer.DisplayText))

	// 2. Record. Failures here do not undo the purchase.
	trade := domain.CompletedTrade{Sale: rec, Offer: offer, BoughtAt: time.Now().UTC()}
	if _, rerr := d.recorder.Record(ctx, trade); rerr != nil {
		log.Error("record trade failed", slog.String("error", rerr.Error()))
	}

	if err := d.sleepFn(ctx, d.cfg.PostPurchaseDelay); err != nil {
		return err
	}

	// 3. Transfer.
	if err := d.transferer.Transfer(ctx, rec.TokenSymbol); err != nil {
		log.Error("transfer failed", slog.String("error", err.Error()))
		d.emit(ctx, notify.EventTransferFailed, rec, &offer, err)
		return err
	}

	log.Info("trade completed")
	d.emit(ctx, notify.EventTradeCompleted, rec, &offer, nil)
	return nil
}

// emit publishes a lifecycle event and raises an operator alert. Both are
// best-effort.
func (d *Dispatcher) emit(ctx context.Context, event string, rec domain.SaleRecord, offer *domain.MarketOffer, cause error) {
	ev := TradeEvent{
		Event:     event,
		Token:     rec.TokenSymbol,
		OrderID:   rec.OrderID,
		Timestamp: time.Now().UTC(),
	}
	if offer != nil {
		ev.Quantity = offer.TokenAmount
		ev.PriceKAS = offer.TotalPriceKAS.String()
	}
	if cause != nil {
		ev.Error = cause.Error()
	}

	if d.events != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = d.events.Publish(ctx, TradeEventsChannel, payload)
		}
		if err != nil {
			d.logger.Warn("publish trade event failed", slog.String("error", err.Error()))
		}
	}

	if d.alerts != nil {
		title, msg := describe(ev)
		if err := d.alerts.Notify(ctx, event, title, msg); err != nil {
			d.logger.Warn("alert failed", slog.String("error", err.Error()))
		}
	}
}

func describe(ev TradeEvent) (title, msg string) {
	switch ev.Event {
	case notify.EventTradeCompleted:
		return "Trade completed", fmt.Sprintf("Bought %d %s for %s KAS and transferred", ev.Quantity, ev.Token, ev.PriceKAS)
	case notify.EventTransferFailed:
		return "Transfer failed", fmt.Sprintf("Bought %d %s for %s KAS but transfer failed: %s", ev.Quantity, ev.Token, ev.PriceKAS, ev.Error)
	default:
		return "Trade failed", fmt.Sprintf("Could not buy %s: %s", ev.Token, ev.Error)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
