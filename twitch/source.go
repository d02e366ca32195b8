// Package twitch adapts Twitch chat to the indexer's message source: IRC for
// live messages, the VOD chat replay API for history, and Helix for chat and
// sender lookups.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-indexer/backend/ingest"
	"github.com/onnwee/chat-indexer/backend/twitchapi"
)

// ErrChatNotFound is returned by GetEntity for an unknown broadcaster id.
var ErrChatNotFound = errors.New("twitch channel not found")

const (
	maxEmptyWindows  = 4
	maxFailedWindows = 4
	disconnectRetry  = 100 * time.Millisecond
)

// ircClient is the part of *twitchirc.Client the source drives.
type ircClient interface {
	OnPrivateMessage(callback func(message twitchirc.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Source implements the chat package's message source over Twitch.
type Source struct {
	Helix       *twitchapi.HelixClient
	BotUsername string
	OAuthToken  string
	// ChatIDs are the broadcaster ids whose channels Subscribe joins.
	ChatIDs []int64
	// RechatURL overrides DefaultRechatURL.
	RechatURL  string
	HTTPClient *http.Client

	newIRC func(username, oauth string) ircClient

	mu      sync.RWMutex
	senders map[string]*ingest.Sender
}

func (s *Source) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// GetEntity resolves a broadcaster id to its channel metadata.
func (s *Source) GetEntity(ctx context.Context, chatID int64) (ingest.ChatEntity, error) {
	ents, err := s.entities(ctx, []int64{chatID})
	if err != nil {
		return ingest.ChatEntity{}, err
	}
	if len(ents) == 0 {
		return ingest.ChatEntity{}, fmt.Errorf("%w: %d", ErrChatNotFound, chatID)
	}
	return ents[0], nil
}

// entities looks up channel metadata for ids in one Helix round trip per 100
// ids. Unknown ids are absent from the result.
func (s *Source) entities(ctx context.Context, ids []int64) ([]ingest.ChatEntity, error) {
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		strIDs = append(strIDs, strconv.FormatInt(id, 10))
	}
	users, err := s.Helix.GetUsers(ctx, strIDs...)
	if err != nil {
		return nil, fmt.Errorf("lookup channels %v: %w", ids, err)
	}
	out := make([]ingest.ChatEntity, 0, len(users))
	for _, u := range users {
		id, err := ChatID(u.ID)
		if err != nil {
			continue
		}
		out = append(out, ingest.ChatEntity{ID: id, Title: u.DisplayName, Handle: u.Login})
	}
	return out, nil
}

// ResolveSender returns the Helix user behind msg.SenderID. Results are cached
// for the life of the source; unknown users are not cached.
func (s *Source) ResolveSender(ctx context.Context, msg ingest.RawMessage) (*ingest.Sender, error) {
	if msg.SenderID == "" {
		return nil, nil
	}
	s.mu.RLock()
	cached, ok := s.senders[msg.SenderID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	users, err := s.Helix.GetUsers(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	sender := &ingest.Sender{ID: users[0].ID, FirstName: users[0].DisplayName, Username: users[0].Login}

	s.mu.Lock()
	if s.senders == nil {
		s.senders = make(map[string]*ingest.Sender)
	}
	s.senders[msg.SenderID] = sender
	s.mu.Unlock()
	return sender, nil
}

// History returns the last limit messages replayed from the channel's most
// recent archived broadcast, oldest first. A channel without archives has no
// history.
//
// The whole replay is walked. When the archive duration is known, empty
// windows are skipped until the end; otherwise the walk ends after
// maxEmptyWindows empty windows in a row. A failing first window, or
// maxFailedWindows failures in a row, is returned as an error since the
// newest messages would be missing.
func (s *Source) History(ctx context.Context, chat ingest.ChatEntity, limit int) ([]ingest.RawMessage, error) {
	vids, _, err := s.Helix.ListVideos(ctx, strconv.FormatInt(chat.ID, 10), "", 1)
	if err != nil {
		return nil, fmt.Errorf("list archives of %d: %w", chat.ID, err)
	}
	if len(vids) == 0 || limit <= 0 {
		return nil, nil
	}
	vod := vids[0]
	vodStart, _ := time.Parse(time.RFC3339, vod.CreatedAt)
	end := -1
	if d, err := time.ParseDuration(vod.Duration); err == nil && d > 0 {
		end = int(d.Seconds())
	}

	logger := slog.Default().With(slog.String("component", "twitch_history"), slog.Int64("chat_id", chat.ID), slog.String("vod_id", vod.ID))
	tail := newTail(limit)
	seen := make(map[string]struct{})
	empty, failed := 0, 0
	for offset := 0; end < 0 || offset <= end; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, next, err := s.fetchRechatChunk(ctx, vod.ID, offset)
		if err != nil {
			if offset == 0 {
				return nil, fmt.Errorf("chat replay of %d: %w", chat.ID, err)
			}
			failed++
			logger.Warn("fetch rechat chunk failed", slog.Int("offset", offset), slog.Any("err", err))
			if failed >= maxFailedWindows {
				return nil, fmt.Errorf("chat replay of %d stopped at offset %d: %w", chat.ID, offset, err)
			}
			offset += rechatStep
			continue
		}
		failed = 0
		if len(msgs) == 0 {
			empty++
			if end < 0 && empty >= maxEmptyWindows {
				break
			}
			offset += rechatStep
			continue
		}
		empty = 0
		for _, m := range msgs {
			if m.ID != "" {
				if _, dup := seen[m.ID]; dup {
					continue
				}
				seen[m.ID] = struct{}{}
			}
			abs := m.Abs
			if abs.IsZero() {
				abs = vodStart.Add(time.Duration(m.Rel * float64(time.Second)))
			}
			tail.add(ingest.RawMessage{
				ID:       MessageID(m.ID),
				ChatID:   chat.ID,
				SenderID: m.UserID,
				Text:     m.Text,
				Date:     abs.Unix(),
			})
		}
		offset = next
	}
	out := tail.messages()
	logger.Info("history fetched", slog.Int("messages", len(out)), slog.Int("seen", len(seen)))
	return out, nil
}

// Subscribe joins every monitored channel and calls onMessage once per chat
// line until ctx is done. Handlers may run concurrently with each other only
// if the IRC client delivers concurrently.
func (s *Source) Subscribe(ctx context.Context, onMessage func(ingest.RawMessage)) error {
	if s.BotUsername == "" || s.OAuthToken == "" {
		return errors.New("twitch bot username and oauth token are required for live chat")
	}
	ents, err := s.entities(ctx, s.ChatIDs)
	if err != nil {
		return fmt.Errorf("resolve channel logins: %w", err)
	}
	found := make(map[int64]struct{}, len(ents))
	logins := make([]string, 0, len(ents))
	for _, e := range ents {
		found[e.ID] = struct{}{}
		logins = append(logins, e.Handle)
	}
	for _, id := range s.ChatIDs {
		if _, ok := found[id]; !ok {
			slog.Warn("monitored channel not found on twitch; not joining", slog.Int64("chat_id", id))
		}
	}

	newIRC := s.newIRC
	if newIRC == nil {
		newIRC = func(username, oauth string) ircClient { return twitchirc.NewClient(username, oauth) }
	}
	client := newIRC(s.BotUsername, s.OAuthToken)
	client.OnPrivateMessage(func(pm twitchirc.PrivateMessage) {
		msg, err := rawFromPrivate(pm)
		if err != nil {
			slog.Debug("dropping chat line", slog.String("room_id", pm.RoomID), slog.Any("err", err))
			return
		}
		onMessage(msg)
	})
	client.Join(logins...)

	if ctx.Err() != nil {
		return nil
	}
	connDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-connDone:
			return
		case <-ctx.Done():
		}
		// Disconnect fails until the connection is open.
		t := time.NewTicker(disconnectRetry)
		defer t.Stop()
		for client.Disconnect() != nil {
			select {
			case <-connDone:
				return
			case <-t.C:
			}
		}
	}()

	slog.Info("twitch live chat joining", slog.Any("channels", logins))
	err = client.Connect()
	close(connDone)
	<-stopped
	if errors.Is(err, twitchirc.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

// rawFromPrivate maps a PRIVMSG to a RawMessage.
func rawFromPrivate(pm twitchirc.PrivateMessage) (ingest.RawMessage, error) {
	chatID, err := ChatID(pm.RoomID)
	if err != nil {
		return ingest.RawMessage{}, fmt.Errorf("room id %q: %w", pm.RoomID, err)
	}
	sent := pm.Time
	if sent.IsZero() {
		sent = time.Now()
	}
	return ingest.RawMessage{
		ID:           MessageID(pm.ID),
		ChatID:       chatID,
		SenderID:     pm.User.ID,
		Text:         pm.Message,
		Date:         sent.Unix(),
		ReplyToMsgID: MessageID(pm.Tags["reply-parent-msg-id"]),
	}, nil
}

// tail keeps the last n messages added, in insertion order.
type tail struct {
	n   int
	buf []ingest.RawMessage
}

func newTail(n int) *tail { return &tail{n: n, buf: make([]ingest.RawMessage, 0, n)} }

func (t *tail) add(m ingest.RawMessage) {
	t.buf = append(t.buf, m)
	if len(t.buf) >= 2*t.n {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.n:]...)
	}
}

func (t *tail) messages() []ingest.RawMessage {
	if len(t.buf) > t.n {
		return t.buf[len(t.buf)-t.n:]
	}
	return t.buf
}
