package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tokenServer(t *testing.T, expiresIn int, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+*calls)),
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_GetCached(t *testing.T) {
	calls := 0
	srv := tokenServer(t, 3600, &calls)
	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}

	first, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first != second || calls != 1 {
		t.Errorf("expected one fetch and a cached token, got %d fetches (%s, %s)", calls, first, second)
	}
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	calls := 0
	srv := tokenServer(t, 30, &calls)
	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}

	_, _ = ts.Get(context.Background())
	_, _ = ts.Get(context.Background())
	if calls != 2 {
		t.Errorf("tokens within the 1 minute buffer must be refetched, got %d fetches", calls)
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	calls := 0
	srv := tokenServer(t, 3600, &calls)
	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}

	_, _ = ts.Get(context.Background())
	ts.Invalidate()
	_, _ = ts.Get(context.Background())
	if calls != 2 {
		t.Errorf("expected refetch after Invalidate, got %d fetches", calls)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error without client id/secret")
	}
}
