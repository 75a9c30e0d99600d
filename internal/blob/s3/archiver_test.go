package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

type memWriter struct {
	objects map[string]string
	err     error
}

func (m *memWriter) Put(_ context.Context, p string, data io.Reader, _ string) error {
	return m.PutMultipart(context.Background(), p, data, 0)
}

func (m *memWriter) PutMultipart(_ context.Context, p string, data io.Reader, _ int64) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[p] = string(b)
	return nil
}

// appendingWriter appends to file before reading the body, like a trade
// being recorded while an upload is in flight.
type appendingWriter struct {
	memWriter
	file string
	once bool
}

func (w *appendingWriter) PutMultipart(ctx context.Context, p string, data io.Reader, size int64) error {
	if !w.once {
		w.once = true
		f, err := os.OpenFile(w.file, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		_, _ = f.WriteString("{\"token\":\"BAR\"}\n")
		f.Close()
	}
	return w.memWriter.PutMultipart(ctx, p, data, size)
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestArchiver(t *testing.T, w domain.BlobWriter, audit domain.AuditStore) (*Archiver, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "transaction_log.json")
	a := NewArchiver(w, audit, ArchiverConfig{LogPath: logPath, Prefix: "kasbot"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return a, logPath
}

func TestArchiver_UploadsOnlyWhenChanged(t *testing.T) {
	w := &memWriter{}
	audit := &memAudit{}
	a, logPath := newTestArchiver(t, w, audit)
	ctx := context.Background()

	key, err := a.Archive(ctx)
	if err != nil || key != "" {
		t.Fatalf("Archive with no log = %q, %v", key, err)
	}

	if err := os.WriteFile(logPath, []byte("{\"token\":\"FOO\"}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	key, err = a.Archive(ctx)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	want := "kasbot/archive/transaction_log/2025/03/04/050607.jsonl"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
	if w.objects[want] != "{\"token\":\"FOO\"}\n" {
		t.Errorf("uploaded = %q", w.objects[want])
	}
	if len(audit.events) != 1 || audit.events[0] != "transaction_log.archived" {
		t.Errorf("audit = %v", audit.events)
	}

	key, _ = a.Archive(ctx)
	if key != "" {
		t.Errorf("unchanged log uploaded again as %q", key)
	}
}

func TestArchiver_UploadFailureRetries(t *testing.T) {
	w := &memWriter{err: errors.New("bucket gone")}
	a, logPath := newTestArchiver(t, w, nil)
	if err := os.WriteFile(logPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Archive(context.Background()); err == nil {
		t.Fatal("Archive succeeded despite writer error")
	}
	w.err = nil
	key, err := a.Archive(context.Background())
	if err != nil || key == "" {
		t.Errorf("retry Archive = %q, %v", key, err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}

func TestArchiver_ConcurrentAppendUploadedNextRun(t *testing.T) {
	w := &appendingWriter{}
	a, logPath := newTestArchiver(t, w, nil)
	w.file = logPath
	ctx := context.Background()

	first := "{\"token\":\"FOO\"}\n"
	if err := os.WriteFile(logPath, []byte(first), 0o644); err != nil {
		t.Fatal(err)
	}
	key, err := a.Archive(ctx)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if got := w.objects[key]; got != first {
		t.Errorf("uploaded %q, want only the bytes present at start %q", got, first)
	}

	a.now = func() time.Time { return time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC) }
	key, err = a.Archive(ctx)
	if err != nil || key == "" {
		t.Fatalf("second Archive = %q, %v, want a new upload", key, err)
	}
	if got := w.objects[key]; got != first+"{\"token\":\"BAR\"}\n" {
		t.Errorf("second upload = %q", got)
	}
}
