package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
	"github.com/alanyoungcy/kaspianobot/internal/notify"
)

type fakeNegotiator struct {
	offer   domain.MarketOffer
	err     error
	panics  bool
	symbols []string
	limits  []decimal.Decimal
}

func (f *fakeNegotiator) Negotiate(_ context.Context, symbol string, maxUnit decimal.Decimal) (domain.MarketOffer, error) {
	f.symbols = append(f.symbols, symbol)
	f.limits = append(f.limits, maxUnit)
	if f.panics {
		panic("bot sent something odd")
	}
	return f.offer, f.err
}

type fakeTransferer struct {
	err   error
	calls []string
}

func (f *fakeTransferer) Transfer(_ context.Context, symbol string) error {
	f.calls = append(f.calls, symbol)
	return f.err
}

type fakeRecorder struct {
	err    error
	trades []domain.CompletedTrade
}

func (f *fakeRecorder) Record(_ context.Context, trade domain.CompletedTrade) (domain.TransactionLogEntry, error) {
	f.trades = append(f.trades, trade)
	return domain.TransactionLogEntry{Token: trade.Sale.TokenSymbol}, f.err
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeLocks struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if key != DispatchLockKey {
		return nil, errors.New("unexpected key " + key)
	}
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() { f.released++ }, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	queue *OrderQueue
	neg   *fakeNegotiator
	xfer  *fakeTransferer
	rec   *fakeRecorder
	alert *fakeAlerter
	disp  *Dispatcher
}

func newHarness() *harness {
	h := &harness{
		queue: NewOrderQueue(NewMemoryProcessedSet()),
		neg: &fakeNegotiator{offer: domain.MarketOffer{
			TokenAmount:   1000,
			TotalPriceKAS: decimal.NewFromInt(80),
			UnitPriceKAS:  decimal.NewFromInt(8),
		}},
		xfer:  &fakeTransferer{},
		rec:   &fakeRecorder{},
		alert: &fakeAlerter{},
	}
	h.disp = NewDispatcher(h.queue, h.neg, h.xfer, h.rec, DispatcherConfig{
		MaxUnitPrice: decimal.NewFromInt(9),
	}, quietLogger())
	h.disp.sleepFn = noSleep
	h.disp.SetAlerter(h.alert)
	return h
}

func (h *harness) enqueue(t *testing.T, symbol, orderID string) {
	t.Helper()
	ok, err := h.queue.Enqueue(context.Background(), domain.SaleRecord{TokenSymbol: symbol, Quantity: 1, OrderID: orderID})
	if err != nil || !ok {
		t.Fatalf("Enqueue(%s, %s) = %v, %v", symbol, orderID, ok, err)
	}
}

func TestOrderQueue_DuplicateOrderIDRejected(t *testing.T) {
	q := NewOrderQueue(NewMemoryProcessedSet())
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: "FOO", OrderID: "o1"})
	if err != nil || !ok {
		t.Fatalf("first Enqueue = %v, %v", ok, err)
	}
	ok, err = q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: "FOO", OrderID: "o1"})
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if ok {
		t.Error("second Enqueue accepted a duplicate order id")
	}

	// Still rejected after the first one was consumed.
	q.Pop()
	ok, _ = q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: "FOO", OrderID: "o1"})
	if ok {
		t.Error("order id accepted again after pop")
	}
	if claimed, _ := q.Claim(ctx, "o1"); claimed {
		t.Error("Claim(o1) = true after the order was queued")
	}
}

type failingSet struct{ err error }

func (f failingSet) Contains(context.Context, string) (bool, error) { return false, f.err }
func (f failingSet) Add(context.Context, string) (bool, error) { return false, f.err }
func (f failingSet) Len(context.Context) (int64, error) { return 0, f.err }

func TestOrderQueue_ClaimFailureQueuesNothing(t *testing.T) {
	q := NewOrderQueue(failingSet{err: errors.New("connection refused")})
	ctx := context.Background()

	if _, err := q.Claim(ctx, "o1"); err == nil {
		t.Fatal("Claim succeeded with a failing set")
	}
	ok, err := q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: "FOO", OrderID: "o1"})
	if ok || err == nil {
		t.Errorf("Enqueue = %v, %v, want false and an error", ok, err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
	if ok, err := q.Claim(ctx, ""); !ok || err != nil {
		t.Errorf("Claim(\"\") = %v, %v, want true, nil", ok, err)
	}
}

func TestOrderQueue_FIFOAndNoOrderID(t *testing.T) {
	q := NewOrderQueue(NewMemoryProcessedSet())
	ctx := context.Background()
	var hooked []string
	q.OnEnqueue(func(_ context.Context, rec domain.SaleRecord) { hooked = append(hooked, rec.TokenSymbol) })

	for _, s := range []string{"A", "B", "B"} {
		if ok, _ := q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: s}); !ok {
			t.Fatalf("Enqueue(%s) rejected", s)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	if p := q.Pending(); p[0].TokenSymbol != "A" || p[2].TokenSymbol != "B" {
		t.Errorf("Pending = %+v", p)
	}
	if len(hooked) != 3 {
		t.Errorf("hook calls = %d, want 3", len(hooked))
	}

	first, _ := q.Pop()
	if first.TokenSymbol != "A" {
		t.Errorf("Pop = %s, want A", first.TokenSymbol)
	}
	q.Pop()
	q.Pop()
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue returned ok")
	}
}

func TestOrderQueue_ConcurrentDuplicates(t *testing.T) {
	q := NewOrderQueue(NewMemoryProcessedSet())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(ctx, domain.SaleRecord{TokenSymbol: "FOO", OrderID: "same"})
		}()
	}
	wg.Wait()

	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestDispatcher_CompletesTrade(t *testing.T) {
	h := newHarness()
	h.enqueue(t, "FOO", "o1")

	if !h.disp.ProcessNext(context.Background()) {
		t.Fatal("ProcessNext = false, want true")
	}
	if len(h.neg.symbols) != 1 || h.neg.symbols[0] != "FOO" {
		t.Errorf("negotiated = %v, want [FOO]", h.neg.symbols)
	}
	if !h.neg.limits[0].Equal(decimal.NewFromInt(9)) {
		t.Errorf("max unit price = %s, want 9", h.neg.limits[0])
	}
	if len(h.rec.trades) != 1 || !h.rec.trades[0].Offer.TotalPriceKAS.Equal(decimal.NewFromInt(80)) {
		t.Errorf("recorded = %+v", h.rec.trades)
	}
	if len(h.xfer.calls) != 1 {
		t.Errorf("transfers = %d, want 1", len(h.xfer.calls))
	}
	st := h.disp.Status()
	if st.Completed != 1 || st.Failed != 0 || st.Processing || st.QueueLen != 0 {
		t.Errorf("Status = %+v", st)
	}
	if len(h.alert.events) != 1 || h.alert.events[0] != notify.EventTradeCompleted {
		t.Errorf("alerts = %v", h.alert.events)
	}
}

func TestDispatcher_PurchaseFailureDropsOrder(t *testing.T) {
	h := newHarness()
	h.neg.err = errors.New("could not verify")
	h.enqueue(t, "FOO", "o1")

	h.disp.ProcessNext(context.Background())

	if len(h.rec.trades) != 0 {
		t.Errorf("recorded %d trades, want 0", len(h.rec.trades))
	}
	if len(h.xfer.calls) != 0 {
		t.Errorf("transfers = %d, want 0", len(h.xfer.calls))
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue Len = %d, want 0 (not re-enqueued)", h.queue.Len())
	}
	if h.disp.ProcessNext(context.Background()) {
		t.Error("second ProcessNext took an order from an empty queue")
	}
	if st := h.disp.Status(); st.Failed != 1 {
		t.Errorf("Failed = %d, want 1", st.Failed)
	}
	if len(h.alert.events) != 1 || h.alert.events[0] != notify.EventTradeFailed {
		t.Errorf("alerts = %v", h.alert.events)
	}
}

func TestDispatcher_TransferFailureKeepsRecord(t *testing.T) {
	h := newHarness()
	h.xfer.err = errors.New("no balance prompt")
	h.enqueue(t, "FOO", "")

	h.disp.ProcessNext(context.Background())

	if len(h.rec.trades) != 1 {
		t.Errorf("recorded %d trades, want 1", len(h.rec.trades))
	}
	if len(h.alert.events) != 1 || h.alert.events[0] != notify.EventTransferFailed {
		t.Errorf("alerts = %v", h.alert.events)
	}
}

func TestDispatcher_RecordFailureStillTransfers(t *testing.T) {
	h := newHarness()
	h.rec.err = errors.New("disk full")
	h.enqueue(t, "FOO", "")

	h.disp.ProcessNext(context.Background())

	if len(h.xfer.calls) != 1 {
		t.Errorf("transfers = %d, want 1", len(h.xfer.calls))
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	h := newHarness()
	h.neg.panics = true
	h.enqueue(t, "FOO", "")
	h.enqueue(t, "BAR", "")

	h.disp.ProcessNext(context.Background())
	if st := h.disp.Status(); st.Failed != 1 || st.Processing {
		t.Errorf("Status after panic = %+v", st)
	}

	h.neg.panics = false
	if !h.disp.ProcessNext(context.Background()) {
		t.Error("dispatcher did not continue after a panic")
	}
}

func TestDispatcher_LockHeldSkipsTick(t *testing.T) {
	h := newHarness()
	locks := &fakeLocks{held: true}
	h.disp.SetLockManager(locks)
	h.enqueue(t, "FOO", "")

	if h.disp.ProcessNext(context.Background()) {
		t.Error("ProcessNext = true while lock held")
	}
	if h.queue.Len() != 1 {
		t.Errorf("queue Len = %d, want 1", h.queue.Len())
	}

	locks.held = false
	if !h.disp.ProcessNext(context.Background()) {
		t.Fatal("ProcessNext = false after lock released")
	}
	if locks.acquired != 1 || locks.released != 1 {
		t.Errorf("acquired/released = %d/%d, want 1/1", locks.acquired, locks.released)
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	h := newHarness()
	h.disp.sleepFn = sleep
	h.disp.cfg.Interval = 10 * time.Millisecond
	h.enqueue(t, "FOO", "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := h.disp.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
	if len(h.xfer.calls) != 1 {
		t.Errorf("transfers = %d, want 1", len(h.xfer.calls))
	}
}
