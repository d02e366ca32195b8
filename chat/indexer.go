package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chat-indexer/backend/ingest"
	"github.com/onnwee/chat-indexer/backend/telemetry"
)

// DefaultBackfillLimit is how many history messages are fetched per chat.
const DefaultBackfillLimit = 200

// Source is the upstream chat service.
type Source interface {
	ingest.SenderResolver
	GetEntity(ctx context.Context, chatID int64) (ingest.ChatEntity, error)
	// History returns at most limit messages of chat, oldest first.
	History(ctx context.Context, chat ingest.ChatEntity, limit int) ([]ingest.RawMessage, error)
	// Subscribe blocks, calling onMessage per new message until ctx is done.
	Subscribe(ctx context.Context, onMessage func(ingest.RawMessage)) error
}

// MessageWriter is implemented by *ingest.Writer.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg ingest.RawMessage, chat ingest.Chat) (bool, error)
	WriteAll(ctx context.Context, msgs []ingest.RawMessage, chat ingest.Chat, batchSize int) (ingest.WriteReport, error)
}

// Indexer wires a Source to the ingestion core.
type Indexer struct {
	Source   Source
	Registry *ingest.Registry
	Writer   MessageWriter

	// BackfillLimit caps history per chat; DefaultBackfillLimit when <= 0.
	BackfillLimit int
	// BatchSize is passed through to WriteAll.
	BatchSize int
}

// BackfillChat registers chat, fetches its history and writes it in one
// transaction.
func (ix *Indexer) BackfillChat(ctx context.Context, chat ingest.Chat) (ingest.WriteReport, error) {
	telemetry.BackfillStarted()
	ctx = telemetry.WithCorrelation(ctx, "backfill-"+strconv.FormatInt(chat.ID, 10))
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.backfill", telemetry.ChatAttr(chat.ID))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "backfill"), slog.Int64("chat_id", chat.ID), slog.String("chat", chat.Name))

	var (
		report ingest.WriteReport
		err    error
	)
	took := telemetry.TimeFunc(telemetry.BackfillDuration, func() {
		report, err = ix.backfill(ctx, chat, logger)
	})
	if err != nil {
		telemetry.BackfillFailed()
		telemetry.RecordError(span, err)
		return report, err
	}
	telemetry.SetSpanSuccess(span)
	logger.Info("backfill complete",
		slog.Int64("inserted", report.Inserted),
		slog.Int("failed", len(report.FailedIDs)),
		slog.Duration("took", took))
	if len(report.FailedIDs) > 0 {
		logger.Warn("messages skipped for unresolved senders", slog.Any("message_ids", report.FailedIDs))
	}
	return report, nil
}

func (ix *Indexer) backfill(ctx context.Context, chat ingest.Chat, logger *slog.Logger) (ingest.WriteReport, error) {
	entity, err := ix.Source.GetEntity(ctx, chat.ID)
	if err != nil {
		return ingest.WriteReport{}, fmt.Errorf("get chat %d: %w", chat.ID, err)
	}
	if err := ix.Registry.Register(ctx, chat.ID, entity.Title); err != nil {
		return ingest.WriteReport{}, err
	}
	limit := ix.BackfillLimit
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	msgs, err := ix.Source.History(ctx, entity, limit)
	if err != nil {
		return ingest.WriteReport{}, fmt.Errorf("history of chat %d: %w", chat.ID, err)
	}
	logger.Info("backfill fetched history", slog.Int("messages", len(msgs)))
	return ix.Writer.WriteAll(ctx, msgs, chat, ix.BatchSize)
}

// Backfill runs BackfillChat for every monitored chat concurrently. Failures
// are logged per chat and returned joined once all chats have finished.
func (ix *Indexer) Backfill(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, c := range ix.Registry.Chats() {
		g.Go(func() error {
			if _, err := ix.BackfillChat(ctx, c); err != nil {
				slog.Error("backfill failed", slog.Int64("chat_id", c.ID), slog.String("chat", c.Name), slog.Any("err", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Run subscribes to the live stream and blocks until ctx is done or the
// subscription fails.
func (ix *Indexer) Run(ctx context.Context) error {
	slog.Info("live indexing started", slog.Int("chats", ix.Registry.Len()))
	return ix.Source.Subscribe(ctx, func(msg ingest.RawMessage) {
		ix.HandleMessage(ctx, msg)
	})
}

// HandleMessage writes one live message if its chat is monitored.
func (ix *Indexer) HandleMessage(ctx context.Context, msg ingest.RawMessage) {
	name, ok := ix.Registry.Lookup(msg.ChatID)
	if !ok {
		return
	}
	logger := slog.Default().With(slog.String("component", "live"), slog.Int64("chat_id", msg.ChatID), slog.String("chat", name))
	inserted, err := ix.Writer.WriteMessage(ctx, msg, ingest.Chat{ID: msg.ChatID, Name: name})
	if err != nil {
		telemetry.IncLiveWriteErrors()
		logger.Error("live write failed", slog.Int64("message_id", msg.ID), slog.Any("err", err))
		return
	}
	if inserted {
		logger.Info("new message", slog.Int64("message_id", msg.ID))
	}
}
