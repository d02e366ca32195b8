package ingest

import (
	"fmt"
	"strings"
)

const (
	upsertColumnCount = 10

	// maxBatchSize keeps one chunk under Postgres' 65535 bind parameter limit.
	maxBatchSize = 65535 / upsertColumnCount

	upsertPrefix = `INSERT INTO messages (
		message_id, chat_id, chat_name, user_id, user_display_name,
		user_username, text, date, edit_date, reply_to_message_id
	) VALUES `

	// Identity and sender columns are fixed by the first insert; later
	// observations only refresh the mutable body.
	upsertConflict = `
	ON CONFLICT (chat_id, message_id) DO UPDATE SET
		text = EXCLUDED.text,
		edit_date = EXCLUDED.edit_date`
)

// upsertQuery builds a multi-row upsert for n rows with $-numbered placeholders.
func upsertQuery(n int) string {
	var b strings.Builder
	b.Grow(len(upsertPrefix) + len(upsertConflict) + n*upsertColumnCount*5)
	b.WriteString(upsertPrefix)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for k := 0; k < upsertColumnCount; k++ {
			if k > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*upsertColumnCount+k+1)
		}
		b.WriteByte(')')
	}
	b.WriteString(upsertConflict)
	return b.String()
}

// upsertArgs flattens rows in placeholder order.
func upsertArgs(rows []MessageRow) []any {
	args := make([]any, 0, len(rows)*upsertColumnCount)
	for _, r := range rows {
		args = append(args, r.args()...)
	}
	return args
}

// collapseDuplicates merges rows sharing a message id so a single statement
// never touches the same key twice, which Postgres rejects. The first row
// keeps its identity and sender columns; text and edit date come from the
// last one, matching what sequential upserts would have stored.
func collapseDuplicates(rows []MessageRow) []MessageRow {
	pos := make(map[int64]int, len(rows))
	out := make([]MessageRow, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.MessageID]; ok {
			out[i].Text = r.Text
			out[i].EditDate = r.EditDate
			continue
		}
		pos[r.MessageID] = len(out)
		out = append(out, r)
	}
	return out
}
