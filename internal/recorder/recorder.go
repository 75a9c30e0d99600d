// Package recorder persists completed purchases: the listing snapshot read by
// the listing tool and the append-only transaction log.
package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// TransactionsChannel carries every recorded log entry.
const TransactionsChannel = "transactions"

// DefaultMarkup is applied to the purchase total to get the listing price.
var DefaultMarkup = decimal.RequireFromString("1.10")

// Config holds the output paths and pricing.
type Config struct {
	ListingConfigPath  string
	TransactionLogPath string
	Markup             decimal.Decimal
	// BlobPrefix is the object key prefix for listing snapshots.
	BlobPrefix string
}

// Recorder writes the listing config and transaction log. Optional mirrors
// receive a copy of every entry; their failures are only logged.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex // serialises file writes

	trades domain.TradeStore
	audit  domain.AuditStore
	blobs  domain.BlobWriter
	events domain.EventPublisher
}

// New creates a Recorder.
func New(cfg Config, logger *slog.Logger) *Recorder {
	if !cfg.Markup.IsPositive() {
		cfg.Markup = DefaultMarkup
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "recorder")),
	}
}

// SetTradeStore mirrors entries into a database.
func (r *Recorder) SetTradeStore(s domain.TradeStore) { r.trades = s }

// SetAuditStore records an audit row per entry.
func (r *Recorder) SetAuditStore(s domain.AuditStore) { r.audit = s }

// SetBlobWriter uploads a copy of each listing snapshot.
func (r *Recorder) SetBlobWriter(w domain.BlobWriter) { r.blobs = w }

// SetEventPublisher publishes each entry on TransactionsChannel.
func (r *Recorder) SetEventPublisher(p domain.EventPublisher) { r.events = p }

// ListingPrice returns total multiplied by the markup.
func (r *Recorder) ListingPrice(total decimal.Decimal) decimal.Decimal {
	return total.Mul(r.cfg.Markup)
}

// Record builds the log entry for trade, overwrites the listing config and
// appends the entry to the transaction log.
func (r *Recorder) Record(ctx context.Context, trade domain.CompletedTrade) (domain.TransactionLogEntry, error) {
	listing := domain.ListingConfig{
		Token:    trade.Sale.TokenSymbol,
		Quantity: strconv.FormatInt(trade.Offer.TokenAmount, 10),
		Price:    r.ListingPrice(trade.Offer.TotalPriceKAS).String(),
	}

	ts := trade.BoughtAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	entry := domain.TransactionLogEntry{
		ID:            uuid.New().String(),
		Timestamp:     ts,
		Token:         trade.Sale.TokenSymbol,
		Quantity:      trade.Offer.TokenAmount,
		PriceKAS:      trade.Offer.TotalPriceKAS,
		UnitPrice:     trade.Offer.UnitPriceKAS,
		TotalPrice:    trade.Offer.TotalPriceKAS,
		OrderID:       trade.Sale.OrderID,
		ListingConfig: listing,
	}

	r.mu.Lock()
	err := r.writeFiles(entry)
	r.mu.Unlock()
	if err != nil {
		return entry, err
	}

	r.logger.Info("transaction recorded",
		slog.String("id", entry.ID),
		slog.String("token", entry.Token),
		slog.Int64("quantity", entry.Quantity),
		slog.String("total_price", entry.TotalPrice.String()),
		slog.String("listing_price", listing.Price),
	)

	r.mirror(ctx, entry)
	return entry, nil
}

func (r *Recorder) writeFiles(entry domain.TransactionLogEntry) error {
	if err := writeJSONAtomic(r.cfg.ListingConfigPath, entry.ListingConfig); err != nil {
		return fmt.Errorf("recorder: write listing config: %w", err)
	}
	if err := appendJSONL(r.cfg.TransactionLogPath, entry); err != nil {
		return fmt.Errorf("recorder: append transaction log: %w", err)
	}
	return nil
}

func (r *Recorder) mirror(ctx context.Context, entry domain.TransactionLogEntry) {
	if r.trades != nil {
		if err := r.trades.Insert(ctx, entry); err != nil {
			r.logger.Warn("trade store insert failed", slog.String("error", err.Error()))
		}
	}

	if r.audit != nil {
		detail := map[string]any{
			"id":          entry.ID,
			"token":       entry.Token,
			"quantity":    entry.Quantity,
			"total_price": entry.TotalPrice.String(),
			"order_id":    entry.OrderID,
		}
		if err := r.audit.Log(ctx, "trade.recorded", detail); err != nil {
			r.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}

	if r.blobs != nil {
		data, err := json.MarshalIndent(entry.ListingConfig, "", "  ")
		if err == nil {
			key := path.Join(r.cfg.BlobPrefix, "listing", entry.Timestamp.Format("2006/01/02"), entry.ID+".json")
			err = r.blobs.Put(ctx, key, bytes.NewReader(data), "application/json")
		}
		if err != nil {
			r.logger.Warn("listing snapshot upload failed", slog.String("error", err.Error()))
		}
	}

	if r.events != nil {
		payload, err := json.Marshal(entry)
		if err == nil {
			err = r.events.Publish(ctx, TransactionsChannel, payload)
		}
		if err != nil {
			r.logger.Warn("publish transaction failed", slog.String("error", err.Error()))
		}
	}
}

// Recent returns up to limit of the newest entries, newest first. The
// database mirror is preferred when configured.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]domain.TransactionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if r.trades != nil {
		entries, err := r.trades.ListRecent(ctx, domain.ListOpts{Limit: limit})
		if err == nil {
			return entries, nil
		}
		r.logger.Warn("trade store list failed, reading log file", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return readTail(r.cfg.TransactionLogPath, limit)
}

// ReadListingConfig loads the current listing snapshot.
func ReadListingConfig(file string) (domain.ListingConfig, error) {
	var lc domain.ListingConfig
	data, err := os.ReadFile(file)
	if err != nil {
		return lc, err
	}
	err = json.Unmarshal(data, &lc)
	return lc, err
}

// writeJSONAtomic replaces file with the indented JSON of v. Readers never
// observe a partially written file.
func writeJSONAtomic(file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(file)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(file)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// CreateTemp uses 0600; match the log file.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}

func appendJSONL(file string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readTail(file string, limit int) ([]domain.TransactionLogEntry, error) {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []domain.TransactionLogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e domain.TransactionLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.TransactionLogEntry, len(all))
	for i := range all {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}
