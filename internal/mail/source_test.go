package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

type fakeMailbox struct {
	messages  map[string]domain.MailMessage
	order     []string
	listErr   error
	getErr    map[string]error
	modifyErr map[string]error
	read      map[string]bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:  make(map[string]domain.MailMessage),
		getErr:    make(map[string]error),
		modifyErr: make(map[string]error),
		read:      make(map[string]bool),
	}
}

func (f *fakeMailbox) add(id, subject, body string) {
	f.messages[id] = domain.MailMessage{ID: id, Subject: subject, BodyData: encode(body)}
	f.order = append(f.order, id)
}

func (f *fakeMailbox) List(_ context.Context, _ string, _ []string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for _, id := range f.order {
		if !f.read[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeMailbox) Get(_ context.Context, id string) (domain.MailMessage, error) {
	if err := f.getErr[id]; err != nil {
		return domain.MailMessage{}, err
	}
	return f.messages[id], nil
}

func (f *fakeMailbox) Modify(_ context.Context, id string, _ []string) error {
	if err := f.modifyErr[id]; err != nil {
		return err
	}
	f.read[id] = true
	return nil
}

type fakeQueue struct {
	seen     map[string]bool
	claimErr error
	records  []domain.SaleRecord
}

func (q *fakeQueue) Claim(_ context.Context, orderID string) (bool, error) {
	if q.claimErr != nil {
		return false, q.claimErr
	}
	if orderID == "" {
		return true, nil
	}
	if q.seen[orderID] {
		return false, nil
	}
	q.seen[orderID] = true
	return true, nil
}

func (q *fakeQueue) Push(_ context.Context, rec domain.SaleRecord) {
	q.records = append(q.records, rec)
}

func newTestSource(mb *fakeMailbox) (*Source, *fakeQueue) {
	q := &fakeQueue{seen: make(map[string]bool)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := NewSource(mb, q, SourceConfig{Sender: "support@kaspiano.com", Labels: []string{"INBOX", "UNREAD"}}, logger)
	return src, q
}

func TestPoll_EnqueuesAndMarksRead(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "1,250 FOO tokens. Total Price: 320.5 KAS. Order Id: ord1")
	src, q := newTestSource(mb)

	recs, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if len(q.records) != 1 || q.records[0].OrderID != "ord1" {
		t.Errorf("queue = %+v, want one record with ord1", q.records)
	}
	if !mb.read["a"] {
		t.Error("message a not marked read")
	}
	if recs[0].ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestPoll_DuplicateOrderIDMarkedReadNotEnqueued(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS Order Id: dup")
	mb.add("b", "Transaction confirmed", "100 FOO tokens 10 KAS Order Id: dup")
	src, q := newTestSource(mb)

	recs, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(recs) != 1 || len(q.records) != 1 {
		t.Fatalf("records = %d, queued = %d, want 1 and 1", len(recs), len(q.records))
	}
	if !mb.read["b"] {
		t.Error("duplicate message b not marked read")
	}

	// Nothing left to consume on the next cycle.
	recs, err = src.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("second Poll records = %d, want 0", len(recs))
	}
}

func TestPoll_WithoutOrderIDNotDeduplicated(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS")
	mb.add("b", "Purchase complete", "100 FOO tokens 10 KAS")
	src, q := newTestSource(mb)

	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(q.records) != 2 {
		t.Errorf("queued = %d, want 2", len(q.records))
	}
}

func TestPoll_UnparsableLeftUnread(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "nothing useful here")
	src, q := newTestSource(mb)

	recs, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(recs) != 0 || len(q.records) != 0 {
		t.Errorf("records = %d, queued = %d, want 0", len(recs), len(q.records))
	}
	if mb.read["a"] {
		t.Error("unparsable message marked read")
	}
}

func TestPoll_MarkReadFailureWithoutOrderIDSkipsEnqueue(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS")
	mb.modifyErr["a"] = errors.New("quota exceeded")
	src, q := newTestSource(mb)

	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(q.records) != 0 {
		t.Errorf("queued = %d, want 0", len(q.records))
	}
	if mb.read["a"] {
		t.Error("message marked read")
	}
}

func TestPoll_MarkReadFailureWithOrderIDStillQueuesOnce(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS Order Id: x1")
	mb.modifyErr["a"] = errors.New("quota exceeded")
	src, q := newTestSource(mb)

	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(q.records) != 1 || q.records[0].OrderID != "x1" {
		t.Fatalf("queue = %+v, want x1 once", q.records)
	}

	// The mailbox recovers: the message is now a known duplicate.
	delete(mb.modifyErr, "a")
	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if len(q.records) != 1 {
		t.Errorf("queued = %d after retry, want 1", len(q.records))
	}
	if !mb.read["a"] {
		t.Error("message not marked read on retry")
	}
}

func TestPoll_ClaimFailureLeavesMessageUnread(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS Order Id: x1")
	src, q := newTestSource(mb)
	q.claimErr = errors.New("redis: sadd: connection refused")

	recs, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(recs) != 0 || len(q.records) != 0 {
		t.Errorf("records = %d, queued = %d, want 0", len(recs), len(q.records))
	}
	if mb.read["a"] {
		t.Fatal("message marked read although the order was not registered")
	}

	// Next cycle with the store back picks the order up.
	q.claimErr = nil
	recs, err = src.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if len(recs) != 1 || recs[0].OrderID != "x1" {
		t.Errorf("records = %+v, want x1", recs)
	}
	if !mb.read["a"] {
		t.Error("message not marked read after enqueue")
	}
}

func TestPoll_GetFailureSkipsOnlyThatMessage(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("a", "Purchase complete", "100 FOO tokens 10 KAS")
	mb.add("b", "Purchase complete", "200 BAR tokens 20 KAS")
	mb.getErr["a"] = errors.New("503")
	src, q := newTestSource(mb)

	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(q.records) != 1 || q.records[0].TokenSymbol != "BAR" {
		t.Errorf("queue = %+v, want only BAR", q.records)
	}
}

func TestPoll_ListErrorReturned(t *testing.T) {
	mb := newFakeMailbox()
	mb.listErr = errors.New("network down")
	src, _ := newTestSource(mb)

	recs, err := src.Poll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if recs != nil {
		t.Errorf("records = %v, want nil", recs)
	}
}
