package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Execer is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MonitoredChats maps chat id to display name. It is built once from
// configuration and handed to NewRegistry, which keeps its own copy.
type MonitoredChats map[int64]string

// Registry answers membership queries for the monitored set and persists chat
// metadata into the chats table.
type Registry struct {
	db    Execer
	chats map[int64]string
}

// NewRegistry returns a registry over a private copy of chats.
func NewRegistry(db Execer, chats MonitoredChats) *Registry {
	cp := make(map[int64]string, len(chats))
	for id, name := range chats {
		cp[id] = name
	}
	return &Registry{db: db, chats: cp}
}

// Register inserts or updates the chats row for chatID. The title is
// last-write-wins and updated_at is bumped on every call.
func (r *Registry) Register(ctx context.Context, chatID int64, title string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chats (id, title)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			updated_at = NOW()`, chatID, title)
	if err != nil {
		return fmt.Errorf("register chat %d: %w", chatID, err)
	}
	return nil
}

// Lookup returns the configured display name for chatID, if it is monitored.
func (r *Registry) Lookup(chatID int64) (string, bool) {
	name, ok := r.chats[chatID]
	return name, ok
}

// Chats returns the monitored set ordered by id.
func (r *Registry) Chats() []Chat {
	out := make([]Chat, 0, len(r.chats))
	for id, name := range r.chats {
		out = append(out, Chat{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of monitored chats.
func (r *Registry) Len() int { return len(r.chats) }
