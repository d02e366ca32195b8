package ingest

import (
	"context"
	"database/sql"
	"time"
)

// Chat identifies a monitored chat and the display name it is stored under.
type Chat struct {
	ID   int64
	Name string
}

// ChatEntity is chat metadata as reported by the message source.
type ChatEntity struct {
	ID     int64
	Title  string
	Handle string
}

// RawMessage is a message as produced by the source, before sender resolution.
//
// SenderID is empty when the message declares no sender (system or anonymous
// posts). EditDate and ReplyToMsgID are zero when absent. Dates are unix seconds.
type RawMessage struct {
	ID           int64
	ChatID       int64
	SenderID     string
	Text         string
	Date         int64
	EditDate     int64
	ReplyToMsgID int64
}

// Sender is the resolved author of a message. A non-empty FirstName marks a
// person; otherwise Title names the channel or group that posted.
type Sender struct {
	ID        string
	FirstName string
	LastName  string
	Title     string
	Username  string
}

// SenderResolver looks up the author of a message. A nil sender with a nil
// error means the source could not find one.
type SenderResolver interface {
	ResolveSender(ctx context.Context, msg RawMessage) (*Sender, error)
}

// MessageRow mirrors one row of the messages table.
type MessageRow struct {
	MessageID        int64
	ChatID           int64
	ChatName         string
	UserID           sql.NullString
	UserDisplayName  sql.NullString
	UserUsername     sql.NullString
	Text             string
	Date             time.Time
	EditDate         sql.NullTime
	ReplyToMessageID sql.NullInt64
}

// args returns the row in upsert column order.
func (r MessageRow) args() []any {
	return []any{
		r.MessageID,
		r.ChatID,
		r.ChatName,
		r.UserID,
		r.UserDisplayName,
		r.UserUsername,
		r.Text,
		r.Date,
		r.EditDate,
		r.ReplyToMessageID,
	}
}

// WriteReport summarizes one WriteAll call.
type WriteReport struct {
	Success   bool
	Inserted  int64
	FailedIDs []int64
}
