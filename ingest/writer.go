package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/chat-indexer/backend/telemetry"
)

const (
	// DefaultBatchSize is the chunk size WriteAll uses when given a non-positive size.
	DefaultBatchSize = 100
	// DefaultResolveConcurrency bounds concurrent sender lookups per chunk.
	DefaultResolveConcurrency = 10
)

// DB is the subset of *sql.DB the writer needs.
type DB interface {
	Execer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// tx is the subset of *sql.Tx used by a backfill.
type tx interface {
	Execer
	Commit() error
	Rollback() error
}

// Writer persists normalized messages. It is safe for concurrent use; every
// call takes its own connection or transaction from the pool.
type Writer struct {
	db          Execer
	begin       func(ctx context.Context) (tx, error)
	resolver    SenderResolver
	concurrency int
	logger      *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithResolveConcurrency bounds concurrent sender lookups per chunk.
func WithResolveConcurrency(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithLogger overrides the writer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter returns a Writer backed by db that resolves senders through resolver.
func NewWriter(db DB, resolver SenderResolver, opts ...Option) *Writer {
	w := &Writer{
		db: db,
		begin: func(ctx context.Context) (tx, error) {
			t, err := db.BeginTx(ctx, nil)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
		resolver:    resolver,
		concurrency: DefaultResolveConcurrency,
		logger:      slog.Default().With(slog.String("component", "ingest")),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// WriteMessage upserts a single live message.
//
// It reports false with a nil error when the message has no text. A sender
// lookup error, an unresolved declared sender, or a statement error abort this
// message only and are returned. true means the upsert statement succeeded,
// whether it created the row or refreshed an existing one.
func (w *Writer) WriteMessage(ctx context.Context, msg RawMessage, chat Chat) (bool, error) {
	if !HasContent(msg) {
		telemetry.AddSkipped(1)
		return false, nil
	}
	sender, err := w.resolver.ResolveSender(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("resolve sender of message %d in chat %d: %w", msg.ID, chat.ID, err)
	}
	row, err := Normalize(msg, chat, sender)
	if err != nil {
		if errors.Is(err, ErrSenderUnresolved) {
			telemetry.AddSenderFailures(1)
		}
		return false, fmt.Errorf("message %d in chat %d: %w", msg.ID, chat.ID, err)
	}
	if _, err := w.db.ExecContext(ctx, upsertQuery(1), row.args()...); err != nil {
		return false, fmt.Errorf("upsert message %d in chat %d: %w", msg.ID, chat.ID, err)
	}
	telemetry.AddWritten("live", 1)
	return true, nil
}
