package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/onnwee/chat-indexer/backend/telemetry"
)

type chatStatus struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name,omitempty"`
	Title     string     `json:"title,omitempty"`
	Messages  int64      `json:"messages"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Monitored bool       `json:"monitored"`
}

// HandleChats lists monitored chats together with what is stored for them.
// Chats that are stored but no longer monitored are listed too.
func (h *Handlers) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.stats(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("chat stats query failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	byID := make(map[int64]*chatStatus)
	for _, c := range h.registry.Chats() {
		byID[c.ID] = &chatStatus{ID: c.ID, Name: c.Name, Monitored: true}
	}
	for _, s := range stats {
		cs, ok := byID[s.ChatID]
		if !ok {
			cs = &chatStatus{ID: s.ChatID}
			byID[s.ChatID] = cs
		}
		cs.Title = s.Title
		cs.Messages = s.Messages
		if s.LastUpdate.Valid {
			t := s.LastUpdate.Time.UTC()
			cs.UpdatedAt = &t
		}
	}

	out := make([]chatStatus, 0, len(byID))
	for _, cs := range byID {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"chats": out})
}
