package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chat-indexer/backend/telemetry"
)

// progressEvery controls how often large backfills log progress.
const progressEvery = 1000

// WriteAll upserts msgs for chat inside one transaction, batchSize rows per
// statement (DefaultBatchSize when batchSize <= 0).
//
// Messages without text are dropped silently. Messages whose declared sender
// does not resolve are left out and reported in FailedIDs; they do not abort
// the call. Any statement or commit error rolls back every chunk of the call
// and is returned. Empty input returns a successful report without touching
// the database. Cancelling ctx mid-call aborts the transaction the same way.
func (w *Writer) WriteAll(ctx context.Context, msgs []RawMessage, chat Chat, batchSize int) (WriteReport, error) {
	if len(msgs) == 0 {
		return WriteReport{Success: true}, nil
	}
	batchSize = clampBatchSize(batchSize)

	ctx, span := telemetry.StartSpan(ctx, "ingest", "ingest.write_all", telemetry.ChatAttr(chat.ID), telemetry.CountAttr(len(msgs)))
	defer span.End()

	logger := w.logger.With(slog.Int64("chat_id", chat.ID), slog.String("chat", chat.Name))

	t, err := w.begin(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return WriteReport{}, fmt.Errorf("begin backfill of chat %d: %w", chat.ID, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := t.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warn("backfill rollback failed", slog.Any("err", rbErr))
		}
	}()

	report := WriteReport{}
	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))
		n, failed, err := w.writeChunk(ctx, t, msgs[start:end], chat)
		if err != nil {
			logger.Error("backfill transaction failed, rolling back", slog.Int("chunk_start", start), slog.Any("err", err))
			telemetry.RecordError(span, err)
			return WriteReport{}, err
		}
		report.Inserted += n
		report.FailedIDs = append(report.FailedIDs, failed...)

		if len(msgs) > progressEvery && end%progressEvery < batchSize {
			logger.Info("backfill progress", slog.Int("processed", end), slog.Int("total", len(msgs)))
		}
	}

	if err := t.Commit(); err != nil {
		telemetry.RecordError(span, err)
		return WriteReport{}, fmt.Errorf("commit backfill of chat %d: %w", chat.ID, err)
	}
	committed = true

	telemetry.AddWritten("backfill", report.Inserted)
	telemetry.SetSpanSuccess(span)
	report.Success = true
	return report, nil
}

// writeChunk runs the two phases of one chunk: resolve every sender, then a
// single multi-row upsert of the rows that survived.
func (w *Writer) writeChunk(ctx context.Context, ex Execer, chunk []RawMessage, chat Chat) (int64, []int64, error) {
	valid := make([]RawMessage, 0, len(chunk))
	for _, m := range chunk {
		if HasContent(m) {
			valid = append(valid, m)
		}
	}
	telemetry.AddSkipped(len(chunk) - len(valid))
	if len(valid) == 0 {
		return 0, nil, nil
	}

	senders := w.resolveSenders(ctx, valid)

	rows := make([]MessageRow, 0, len(valid))
	var failed []int64
	for i, m := range valid {
		row, err := Normalize(m, chat, senders[i])
		if errors.Is(err, ErrSenderUnresolved) {
			failed = append(failed, m.ID)
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("normalize message %d: %w", m.ID, err)
		}
		rows = append(rows, row)
	}
	telemetry.AddSenderFailures(len(failed))

	rows = collapseDuplicates(rows)
	if len(rows) == 0 {
		return 0, failed, nil
	}
	res, err := ex.ExecContext(ctx, upsertQuery(len(rows)), upsertArgs(rows)...)
	if err != nil {
		return 0, nil, fmt.Errorf("upsert %d messages into chat %d: %w", len(rows), chat.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("rows affected for chat %d: %w", chat.ID, err)
	}
	telemetry.ObserveBatch(n)
	return n, failed, nil
}

// resolveSenders looks up senders with bounded concurrency. A failed lookup
// leaves a nil entry at that index; it never cancels the others.
func (w *Writer) resolveSenders(ctx context.Context, msgs []RawMessage) []*Sender {
	senders := make([]*Sender, len(msgs))
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, m := range msgs {
		g.Go(func() error {
			s, err := w.resolver.ResolveSender(ctx, m)
			if err != nil {
				w.logger.Warn("failed to resolve sender",
					slog.Int64("chat_id", m.ChatID),
					slog.Int64("message_id", m.ID),
					slog.Any("err", err))
				return nil
			}
			senders[i] = s
			return nil
		})
	}
	_ = g.Wait()
	return senders
}

func clampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}
