package ingest

import (
	"database/sql"
	"time"
)

// HasContent reports whether msg carries a text body worth persisting.
func HasContent(msg RawMessage) bool { return msg.Text != "" }

// Normalize converts a raw message and its resolved sender into a messages row.
//
// It returns ErrNoContent for messages without text and ErrSenderUnresolved
// when the message declares a sender but sender is nil. A nil sender on a
// message without a declared sender is fine and yields null user columns.
func Normalize(msg RawMessage, chat Chat, sender *Sender) (MessageRow, error) {
	if !HasContent(msg) {
		return MessageRow{}, ErrNoContent
	}
	if sender == nil && msg.SenderID != "" {
		return MessageRow{}, ErrSenderUnresolved
	}

	row := MessageRow{
		MessageID: msg.ID,
		ChatID:    chat.ID,
		ChatName:  chat.Name,
		Text:      msg.Text,
		Date:      unixTime(msg.Date),
	}
	if sender != nil {
		row.UserID = nullString(sender.ID)
		row.UserDisplayName = nullString(displayName(sender))
		row.UserUsername = nullString(sender.Username)
	}
	if msg.EditDate != 0 {
		row.EditDate = sql.NullTime{Time: unixTime(msg.EditDate), Valid: true}
	}
	if msg.ReplyToMsgID != 0 {
		row.ReplyToMessageID = sql.NullInt64{Int64: msg.ReplyToMsgID, Valid: true}
	}
	return row, nil
}

// displayName is "First Last" for people and the title for channel senders.
func displayName(s *Sender) string {
	if s.FirstName != "" {
		if s.LastName != "" {
			return s.FirstName + " " + s.LastName
		}
		return s.FirstName
	}
	return s.Title
}

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
