package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// OrderQueue is the FIFO of trade requests waiting for the dispatcher. Any
// number of producers may enqueue; only the dispatcher pops.
type OrderQueue struct {
	mu        sync.Mutex
	items     []domain.SaleRecord
	processed domain.ProcessedOrderSet
	onEnqueue func(ctx context.Context, rec domain.SaleRecord)
}

// NewOrderQueue creates an empty queue that remembers order ids in processed.
func NewOrderQueue(processed domain.ProcessedOrderSet) *OrderQueue {
	return &OrderQueue{processed: processed}
}

// OnEnqueue registers fn to be called after every accepted record. Must be
// called before the queue is shared.
func (q *OrderQueue) OnEnqueue(fn func(ctx context.Context, rec domain.SaleRecord)) {
	q.onEnqueue = fn
}

// Claim registers orderID as processed. It reports false when the id was
// claimed before. An empty id is never recorded and always succeeds.
func (q *OrderQueue) Claim(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return true, nil
	}
	added, err := q.processed.Add(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("executor: register order %s: %w", orderID, err)
	}
	return added, nil
}

// Push appends rec to the back of the queue without consulting the
// processed set. Callers claim the order id first.
func (q *OrderQueue) Push(ctx context.Context, rec domain.SaleRecord) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	if q.onEnqueue != nil {
		q.onEnqueue(ctx, rec)
	}
}

// Enqueue claims the order id of rec and appends it. Records carrying an
// order id that was accepted before are rejected with false. Records without
// an order id are always accepted.
func (q *OrderQueue) Enqueue(ctx context.Context, rec domain.SaleRecord) (bool, error) {
	added, err := q.Claim(ctx, rec.OrderID)
	if err != nil || !added {
		return false, err
	}
	q.Push(ctx, rec)
	return true, nil
}

// Pop removes and returns the front record.
func (q *OrderQueue) Pop() (domain.SaleRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.SaleRecord{}, false
	}
	rec := q.items[0]
	q.items[0] = domain.SaleRecord{}
	q.items = q.items[1:]
	return rec, true
}

// Len returns the number of waiting records.
func (q *OrderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the waiting records in dispatch order.
func (q *OrderQueue) Pending() []domain.SaleRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.SaleRecord, len(q.items))
	copy(out, q.items)
	return out
}
