package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMessageSkipsWithoutResolving(t *testing.T) {
	called := false
	w := newTestWriter(resolverFunc(func(context.Context, RawMessage) (*Sender, error) {
		called = true
		return nil, nil
	}))

	ok, err := w.WriteMessage(context.Background(), RawMessage{ID: 1, SenderID: "42", Date: 1700000000}, testChat)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
	assert.Empty(t, w.pool.calls)
}

func TestWriteMessageUpsertsThroughPool(t *testing.T) {
	w := newTestWriter(personResolver)

	ok, err := w.WriteMessage(context.Background(), RawMessage{ID: 1, SenderID: "42", Text: "hi", Date: 1700000000}, testChat)

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, w.pool.calls, 1)
	assert.Equal(t, []int64{1}, w.pool.messageIDs(0))
	assert.Zero(t, w.begun, "live writes do not open a transaction")
}

func TestWriteMessagePropagatesResolveError(t *testing.T) {
	boom := errors.New("network down")
	w := newTestWriter(resolverFunc(func(context.Context, RawMessage) (*Sender, error) { return nil, boom }))

	ok, err := w.WriteMessage(context.Background(), RawMessage{ID: 1, SenderID: "42", Text: "hi"}, testChat)

	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, w.pool.calls)
}

func TestWriteMessageRejectsUnresolvedSender(t *testing.T) {
	w := newTestWriter(resolverFunc(func(context.Context, RawMessage) (*Sender, error) { return nil, nil }))

	ok, err := w.WriteMessage(context.Background(), RawMessage{ID: 1, SenderID: "42", Text: "hi"}, testChat)

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSenderUnresolved)
	assert.Empty(t, w.pool.calls)
}

func TestWriteMessageReportsStatementFailure(t *testing.T) {
	w := newTestWriter(personResolver)
	w.pool.failOn = 1
	w.pool.err = errors.New("connection refused")

	ok, err := w.WriteMessage(context.Background(), RawMessage{ID: 1, SenderID: "42", Text: "hi"}, testChat)

	assert.False(t, ok, "a failed statement must not report the message as written")
	assert.ErrorIs(t, err, w.pool.err)
}
