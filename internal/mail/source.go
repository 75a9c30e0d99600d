package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// Enqueuer is the producer side of the order queue.
type Enqueuer interface {
	// Claim records orderID as processed and reports false for a duplicate.
	// An empty id always succeeds.
	Claim(ctx context.Context, orderID string) (bool, error)
	// Push appends rec to the queue.
	Push(ctx context.Context, rec domain.SaleRecord)
}

// SourceConfig holds the intake settings.
type SourceConfig struct {
	Sender       string
	Labels       []string
	PollInterval time.Duration
}

// Source polls the mailbox for sale notifications and feeds the order queue.
type Source struct {
	mailbox domain.Mailbox
	queue   Enqueuer
	query   string
	labels  []string
	every   time.Duration
	logger  *slog.Logger
}

// NewSource creates a Source reading from mailbox and writing into queue.
func NewSource(mailbox domain.Mailbox, queue Enqueuer, cfg SourceConfig, logger *slog.Logger) *Source {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Source{
		mailbox: mailbox,
		queue:   queue,
		query:   BuildQuery(cfg.Sender),
		labels:  cfg.Labels,
		every:   cfg.PollInterval,
		logger:  logger.With(slog.String("component", "mail_source")),
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick.
func (s *Source) Run(ctx context.Context) error {
	s.logger.Info("mail source started", slog.Duration("interval", s.every))
	defer s.logger.Info("mail source stopped")

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("poll failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one intake cycle and returns the records it enqueued. A listing
// failure aborts the cycle; failures on individual messages only skip them.
func (s *Source) Poll(ctx context.Context) ([]domain.SaleRecord, error) {
	ids, err := s.mailbox.List(ctx, s.query, s.labels)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.logger.Debug("unread notifications found", slog.Int("count", len(ids)))
	}

	var out []domain.SaleRecord
	for _, id := range ids {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		rec, ok := s.consume(ctx, id)
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// consume handles a single message id. It reports whether a new record was
// enqueued.
func (s *Source) consume(ctx context.Context, id string) (domain.SaleRecord, bool) {
	log := s.logger.With(slog.String("message_id", id))

	msg, err := s.mailbox.Get(ctx, id)
	if err != nil {
		log.Warn("fetch message failed", slog.String("error", err.Error()))
		return domain.SaleRecord{}, false
	}

	rec, err := ParseSaleEmail(msg)
	if err != nil {
		// Left unread on purpose so a human can look at it.
		log.Warn("notification not parsed",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return domain.SaleRecord{}, false
	}
	rec.ReceivedAt = time.Now().UTC()
	log = log.With(
		slog.String("token", rec.TokenSymbol),
		slog.Int64("quantity", rec.Quantity),
		slog.String("order_id", rec.OrderID),
	)

	// A claim failure leaves the message unread for the next cycle.
	claimed, err := s.queue.Claim(ctx, rec.OrderID)
	if err != nil {
		log.Warn("register order failed", slog.String("error", err.Error()))
		return domain.SaleRecord{}, false
	}
	if !claimed {
		log.Info("duplicate order, marking read", slog.String("error", domain.ErrDuplicate.Error()))
		s.markRead(ctx, id, log)
		return domain.SaleRecord{}, false
	}

	// Without an order id the unread flag is the only dedup, so the record
	// is queued only once the mail is read. A claimed id is queued either
	// way; the next cycle sees it as a duplicate and retries the mark.
	if !s.markRead(ctx, id, log) && !rec.HasOrderID() {
		return domain.SaleRecord{}, false
	}
	s.queue.Push(ctx, rec)

	log.Info("order enqueued",
		slog.String("type", string(rec.Type)),
		slog.String("price_kas", rec.PriceKAS.String()),
	)
	return rec, true
}

func (s *Source) markRead(ctx context.Context, id string, log *slog.Logger) bool {
	if err := s.mailbox.Modify(ctx, id, []string{"UNREAD"}); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("mark read failed", slog.String("error", err.Error()))
		}
		return false
	}
	return true
}
