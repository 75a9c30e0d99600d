package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
	"github.com/alanyoungcy/kaspianobot/internal/executor"
	"github.com/alanyoungcy/kaspianobot/internal/server/handler"
	"github.com/alanyoungcy/kaspianobot/internal/server/ws"
)

type stubDispatcher struct{ st executor.Status }

func (s stubDispatcher) Status() executor.Status { return s.st }

type stubTradeLog struct {
	entries []domain.TransactionLogEntry
	limit   int
}

func (s *stubTradeLog) Recent(_ context.Context, limit int) ([]domain.TransactionLogEntry, error) {
	s.limit = limit
	return s.entries, nil
}

type stubAudit struct {
	entries []domain.AuditEntry
	opts    domain.ListOpts
	err     error
}

func (s *stubAudit) Log(context.Context, string, map[string]any) error { return nil }

func (s *stubAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.opts = opts
	return s.entries, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	queue  *executor.OrderQueue
	trades *stubTradeLog
	audit  *stubAudit
	hub    *ws.Hub
	srv    *httptest.Server
}

func newTestEnv(t *testing.T, apiKey string, checks map[string]handler.PingFunc) *testEnv {
	t.Helper()
	logger := quietLogger()
	processed := executor.NewMemoryProcessedSet()
	env := &testEnv{
		queue:  executor.NewOrderQueue(processed),
		trades: &stubTradeLog{},
		audit:  &stubAudit{},
	}
	env.hub = ws.NewHub(nil, "full", logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = env.hub.Run(ctx) }()

	s := NewServer(Config{APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler(checks, logger),
		Status: handler.NewStatusHandler("full", stubDispatcher{executor.Status{QueueLen: 2, Processing: true}}, processed, logger),
		Orders: handler.NewOrderHandler(env.queue, logger),
		Trades: handler.NewTradeHandler(env.trades, logger),
		Audit:  handler.NewAuditHandler(env.audit, logger),
	}, env.hub, logger)

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		cancel()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret", map[string]handler.PingFunc{
		"redis": func(context.Context) error { return nil },
	})
	resp, body := env.do(t, "GET", "/api/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, "", map[string]handler.PingFunc{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body := env.do(t, "GET", "/api/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, "", nil)
	_, body := env.do(t, "GET", "/api/status", "")

	if body["mode"] != "full" {
		t.Errorf("mode = %v", body["mode"])
	}
	disp, ok := body["dispatcher"].(map[string]any)
	if !ok || disp["queue_len"] != float64(2) || disp["processing"] != true {
		t.Errorf("dispatcher = %v", body["dispatcher"])
	}
	if body["processed_orders"] != float64(0) {
		t.Errorf("processed_orders = %v", body["processed_orders"])
	}
}

func TestOrders_EnqueueAndDedup(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp, body := env.do(t, "POST", "/api/orders", `{"token_symbol":"foo","quantity":1250,"price_kas":"320.5","order_id":"o1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, body %v", resp.StatusCode, body)
	}
	if body["token_symbol"] != "FOO" {
		t.Errorf("token_symbol = %v, want FOO", body["token_symbol"])
	}

	resp, _ = env.do(t, "POST", "/api/orders", `{"token_symbol":"FOO","quantity":5,"order_id":"o1"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate POST status = %d, want 409", resp.StatusCode)
	}

	_, body = env.do(t, "GET", "/api/orders", "")
	orders, _ := body["orders"].([]any)
	if len(orders) != 1 {
		t.Errorf("orders = %v, want 1", body["orders"])
	}
	if env.queue.Len() != 1 {
		t.Errorf("queue Len = %d, want 1", env.queue.Len())
	}
}

func TestOrders_Validation(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for _, body := range []string{
		`not json`,
		`{"quantity":5}`,
		`{"token_symbol":"FOO","quantity":0}`,
		`{"token_symbol":"FOO","quantity":5,"price_kas":"-12.5"}`,
	} {
		resp, _ := env.do(t, "POST", "/api/orders", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s = %d, want 400", body, resp.StatusCode)
		}
	}
	if n := len(env.queue.Pending()); n != 0 {
		t.Errorf("queued = %d after invalid requests, want 0", n)
	}
}

func TestTrades_Limit(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.trades.entries = []domain.TransactionLogEntry{{ID: "a", Token: "FOO"}}

	_, body := env.do(t, "GET", "/api/trades?limit=9999", "")
	if env.trades.limit != 500 {
		t.Errorf("limit = %d, want capped 500", env.trades.limit)
	}
	if trades, _ := body["trades"].([]any); len(trades) != 1 {
		t.Errorf("trades = %v", body["trades"])
	}
}

func TestAudit_List(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.audit.entries = []domain.AuditEntry{{ID: 7, Event: "trade.recorded", Detail: map[string]any{"token": "FOO"}}}

	resp, body := env.do(t, "GET", "/api/audit?limit=20", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.audit.opts.Limit != 20 {
		t.Errorf("limit = %d, want 20", env.audit.opts.Limit)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1", body["entries"])
	}
	if e, _ := entries[0].(map[string]any); e["event"] != "trade.recorded" {
		t.Errorf("event = %v, want trade.recorded", e["event"])
	}

	env.audit.err = errors.New("connection reset")
	if resp, _ := env.do(t, "GET", "/api/audit", ""); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("failing store status = %d, want 500", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)

	if resp, _ := env.do(t, "GET", "/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", resp.StatusCode)
	}
	if resp, _ := env.do(t, "GET", "/api/status", "", "Authorization", "Bearer wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key = %d, want 401", resp.StatusCode)
	}
	if resp, _ := env.do(t, "GET", "/api/status", "", "X-API-Key", "secret"); resp.StatusCode != http.StatusOK {
		t.Errorf("X-API-Key = %d, want 200", resp.StatusCode)
	}
	if resp, _ := env.do(t, "GET", "/api/status?api_key=secret", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("query key = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocket_ReceivesPublishedEvents(t *testing.T) {
	env := newTestEnv(t, "", nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Channel string `json:"channel"`
	}
	if err := conn.ReadJSON(&hello); err != nil || hello.Channel != "hello" {
		t.Fatalf("hello = %+v, %v", hello, err)
	}

	if err := env.hub.Publish(context.Background(), "trades", []byte(`{"event":"trade_completed","token":"FOO"}`)); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Channel string            `json:"channel"`
		Payload map[string]string `json:"payload"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Channel != "trades" || got.Payload["token"] != "FOO" {
		t.Errorf("event = %+v", got)
	}
}
