package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// HelixUser is one entry of a mocked /helix/users response.
type HelixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// MockTwitchServer serves canned Helix, OAuth and rechat responses.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	UserLookups atomic.Int32
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUsers serves /helix/users, answering ?id= and ?login= queries from users.
func (m *MockTwitchServer) MockUsers(users ...HelixUser) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		m.UserLookups.Add(1)
		q := r.URL.Query()
		data := []HelixUser{}
		for _, u := range users {
			for _, id := range q["id"] {
				if u.ID == id {
					data = append(data, u)
				}
			}
			for _, login := range q["login"] {
				if strings.EqualFold(u.Login, login) {
					data = append(data, u)
				}
			}
		}
		writeJSON(w, map[string]any{"data": data})
	}
}

// MockStatus makes path answer with the given status code.
func (m *MockTwitchServer) MockStatus(path string, code int) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

// MockVideosResponse adds a handler for /helix/videos endpoint
func (m *MockTwitchServer) MockVideosResponse(videos []map[string]string, cursor string) {
	m.Handlers["/helix/videos"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data":       videos,
			"pagination": map[string]string{"cursor": cursor},
		})
	}
}

// MockRechat serves /rechat-messages from pages keyed by offset query value.
// Unknown offsets return an empty page.
func (m *MockTwitchServer) MockRechat(pages map[string][]map[string]any) {
	m.Handlers["/rechat-messages"] = func(w http.ResponseWriter, r *http.Request) {
		data := pages[r.URL.Query().Get("offset")]
		if data == nil {
			data = []map[string]any{}
		}
		writeJSON(w, map[string]any{"data": data})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
