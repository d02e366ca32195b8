package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chat-indexer/backend/db"
	"github.com/onnwee/chat-indexer/backend/ingest"
	"github.com/onnwee/chat-indexer/backend/testutil"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newTestHandlers(pingErr error, stats []db.ChatStat, statsErr error) *Handlers {
	return &Handlers{
		db:     fakePinger{err: pingErr},
		schema: func(context.Context) error { return nil },
		stats: func(context.Context) ([]db.ChatStat, error) {
			return stats, statsErr
		},
		registry: ingest.NewRegistry(nil, ingest.MonitoredChats{-100123: "alpha", 42: "beta"}),
	}
}

func TestHealthzOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(nil, nil, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatalf("expected generated correlation id header")
	}
}

func TestHealthzDatabaseDown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(errors.New("refused"), nil, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(nil, nil, nil)).ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name       string
		pingErr    error
		schemaErr  error
		wantCode   int
		wantStatus string
		wantCheck  string
	}{
		{name: "ready", wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "database down", pingErr: errors.New("refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready", wantCheck: "database"},
		{name: "schema missing", schemaErr: errors.New(`relation "chats" does not exist`), wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready", wantCheck: "schema"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(tc.pingErr, nil, nil)
			h.schema = func(context.Context) error { return tc.schemaErr }
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rr := httptest.NewRecorder()

			newMux(h).ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d, body=%s", tc.wantCode, rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != tc.wantStatus {
				t.Fatalf("expected status=%s, got %q", tc.wantStatus, resp["status"])
			}
			if resp["failed_check"] != tc.wantCheck {
				t.Fatalf("expected failed_check=%q, got %q", tc.wantCheck, resp["failed_check"])
			}
		})
	}
}

func TestReadyzSkipsStatsQuery(t *testing.T) {
	h := newTestHandlers(nil, nil, nil)
	statsCalls := 0
	h.stats = func(context.Context) ([]db.ChatStat, error) {
		statsCalls++
		return nil, nil
	}
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	newMux(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if statsCalls != 0 {
		t.Fatalf("readiness ran the per-chat stats query %d times", statsCalls)
	}
}

func TestReadyzAgainstPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	NewMux(database, ingest.NewRegistry(database, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

type chatsResponse struct {
	Chats []chatStatus `json:"chats"`
}

func TestChatsMergesMonitoredAndStored(t *testing.T) {
	updated := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	stats := []db.ChatStat{
		{ChatID: -100123, Title: "Alpha Chat", Messages: 3, LastUpdate: sql.NullTime{Time: updated, Valid: true}},
		{ChatID: 7, Title: "retired", Messages: 10},
	}
	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(nil, stats, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp chatsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Chats) != 3 {
		t.Fatalf("expected 3 chats, got %+v", resp.Chats)
	}
	alpha, retired, beta := resp.Chats[0], resp.Chats[1], resp.Chats[2]
	if alpha.ID != -100123 || alpha.Name != "alpha" || alpha.Title != "Alpha Chat" || alpha.Messages != 3 || !alpha.Monitored {
		t.Errorf("unexpected alpha entry: %+v", alpha)
	}
	if alpha.UpdatedAt == nil || !alpha.UpdatedAt.Equal(updated) {
		t.Errorf("unexpected alpha updated_at: %v", alpha.UpdatedAt)
	}
	if retired.ID != 7 || retired.Monitored {
		t.Errorf("unexpected retired entry: %+v", retired)
	}
	if beta.ID != 42 || beta.Messages != 0 || !beta.Monitored {
		t.Errorf("unexpected beta entry: %+v", beta)
	}
}

func TestChatsQueryError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(nil, nil, errors.New("boom"))).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestChatsRejectsPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chats", nil)
	rr := httptest.NewRecorder()

	newMux(newTestHandlers(nil, nil, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestChatsAgainstPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	testutil.CleanupChat(t, database, -100777)
	ctx := context.Background()

	reg := ingest.NewRegistry(database, ingest.MonitoredChats{-100777: "pg"})
	if err := reg.Register(ctx, -100777, "Postgres Chat"); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rr := httptest.NewRecorder()
	NewMux(database, reg).ServeHTTP(rr, req)

	var resp chatsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, c := range resp.Chats {
		if c.ID == -100777 {
			if c.Title != "Postgres Chat" || !c.Monitored || c.UpdatedAt == nil {
				t.Fatalf("unexpected entry: %+v", c)
			}
			return
		}
	}
	t.Fatalf("chat -100777 missing from %+v", resp.Chats)
}

func TestStartAndShutdown(t *testing.T) {
	database, err := db.Connect("", db.PoolConfig{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run server in background on random port by using :0
	done := make(chan error, 1)
	go func() { done <- Start(ctx, database, ingest.NewRegistry(database, nil), "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
