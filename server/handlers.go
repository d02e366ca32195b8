// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/chat-indexer/backend/db"
	"github.com/onnwee/chat-indexer/backend/ingest"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       Pinger
	schema   func(ctx context.Context) error
	stats    func(ctx context.Context) ([]db.ChatStat, error)
	registry *ingest.Registry
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(database *sql.DB, registry *ingest.Registry) *Handlers {
	return &Handlers{
		db: database,
		schema: func(ctx context.Context) error {
			return db.CheckSchema(ctx, database)
		},
		stats: func(ctx context.Context) ([]db.ChatStat, error) {
			return db.ChatStats(ctx, database)
		},
		registry: registry,
	}
}
