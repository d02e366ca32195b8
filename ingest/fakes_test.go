package ingest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"sync"
)

type execCall struct {
	query string
	args  []any
}

// recordingExec records statements and reports one affected row per bound row.
type recordingExec struct {
	mu     sync.Mutex
	calls  []execCall
	failOn int // 1-based call index that fails; 0 never fails
	err    error
}

func (r *recordingExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, execCall{query: query, args: args})
	if r.failOn == len(r.calls) {
		return nil, r.err
	}
	return driver.RowsAffected(len(args) / upsertColumnCount), nil
}

// messageIDs returns the message ids bound by call i.
func (r *recordingExec) messageIDs(i int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	args := r.calls[i].args
	for k := 0; k < len(args); k += upsertColumnCount {
		ids = append(ids, args[k].(int64))
	}
	return ids
}

type fakeTx struct {
	*recordingExec
	commits   int
	rollbacks int
	commitErr error
}

func (f *fakeTx) Commit() error {
	f.commits++
	return f.commitErr
}

func (f *fakeTx) Rollback() error {
	if f.commits > 0 {
		return sql.ErrTxDone
	}
	f.rollbacks++
	return nil
}

type fakeDB struct{ *recordingExec }

func (fakeDB) BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("fakeDB: use the writer's begin hook")
}

type resolverFunc func(ctx context.Context, msg RawMessage) (*Sender, error)

func (f resolverFunc) ResolveSender(ctx context.Context, msg RawMessage) (*Sender, error) {
	return f(ctx, msg)
}

// personResolver resolves every declared sender to a person.
var personResolver = resolverFunc(func(_ context.Context, m RawMessage) (*Sender, error) {
	if m.SenderID == "" {
		return nil, nil
	}
	return &Sender{ID: m.SenderID, FirstName: "User", LastName: m.SenderID, Username: "u" + m.SenderID}, nil
})

// testWriter wires a Writer to recording fakes. begun counts transactions opened.
type testWriter struct {
	*Writer
	pool  *recordingExec
	tx    *fakeTx
	begun int
}

func newTestWriter(resolver SenderResolver, opts ...Option) *testWriter {
	tw := &testWriter{pool: &recordingExec{}, tx: &fakeTx{recordingExec: &recordingExec{}}}
	tw.Writer = NewWriter(fakeDB{tw.pool}, resolver, opts...)
	tw.begin = func(context.Context) (tx, error) {
		tw.begun++
		return tw.tx, nil
	}
	return tw
}

// makeMessages returns n text messages with ids 1..n and declared senders.
func makeMessages(n int) []RawMessage {
	out := make([]RawMessage, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = RawMessage{
			ID:       id,
			ChatID:   testChat.ID,
			SenderID: strconv.FormatInt(id%7+1, 10),
			Text:     "message " + strconv.FormatInt(id, 10),
			Date:     1700000000 + id,
		}
	}
	return out
}
