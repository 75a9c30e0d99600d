package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// ArchiverConfig configures the transaction log archiver.
type ArchiverConfig struct {
	LogPath  string
	Prefix   string
	Interval time.Duration
	PartSize int64
}

// Archiver periodically copies the local transaction log to object storage.
// A copy is only uploaded when the file changed since the last upload.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore // optional
	cfg    ArchiverConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastMod time.Time
	lastLen int64
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Archiver{
		writer: writer,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run archives once per interval until ctx is cancelled. Failures are logged
// and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Archive(ctx); err != nil {
				a.logger.Warn("archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Archive uploads the transaction log if it changed and returns the object
// key, or "" when there was nothing new to upload.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.cfg.LogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("s3blob: open transaction log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("s3blob: stat transaction log: %w", err)
	}
	if info.Size() == 0 || (info.Size() == a.lastLen && info.ModTime().Equal(a.lastMod)) {
		return "", nil
	}

	key := archivePath(a.cfg.Prefix, a.now().UTC())
	// Appends after Stat are left for the next run.
	body := io.NewSectionReader(f, 0, info.Size())
	if err := a.writer.PutMultipart(ctx, key, body, a.cfg.PartSize); err != nil {
		return "", err
	}
	a.lastLen = info.Size()
	a.lastMod = info.ModTime()

	a.logger.Info("transaction log archived", slog.String("key", key), slog.Int64("bytes", info.Size()))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "transaction_log.archived", map[string]any{
			"key":   key,
			"bytes": info.Size(),
		}); err != nil {
			a.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return key, nil
}

// archivePath returns prefix/archive/transaction_log/YYYY/MM/DD/HHMMSS.jsonl.
func archivePath(prefix string, t time.Time) string {
	return path.Join(prefix, "archive", "transaction_log", t.Format("2006/01/02"), t.Format("150405")+".jsonl")
}
