package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRechatURL is the VOD chat replay endpoint.
const DefaultRechatURL = "https://rechat.twitch.tv/rechat-messages"

// rechatStep is the width in seconds of one replay window.
const rechatStep = 30

// rechatMessage is one replayed chat line.
type rechatMessage struct {
	ID     string
	UserID string
	Text   string
	Abs    time.Time
	Rel    float64
}

// fetchRechatChunk queries the replay API for one offset window. It tries the
// raw video id and then the v-prefixed form.
func (s *Source) fetchRechatChunk(ctx context.Context, vodID string, offset int) ([]rechatMessage, int, error) {
	base := s.RechatURL
	if base == "" {
		base = DefaultRechatURL
	}
	u1 := fmt.Sprintf("%s?video_id=%s&offset=%d", base, url.QueryEscape(vodID), offset)
	msgs, next, err := s.doFetchRechat(ctx, u1, offset)
	if err == nil && len(msgs) > 0 {
		return msgs, next, nil
	}
	vPref := vodID
	if !strings.HasPrefix(strings.ToLower(vodID), "v") {
		vPref = "v" + vodID
	}
	u2 := fmt.Sprintf("%s?video_id=%s&offset=%d", base, url.QueryEscape(vPref), offset)
	return s.doFetchRechat(ctx, u2, offset)
}

func (s *Source) doFetchRechat(ctx context.Context, urlStr string, offset int) ([]rechatMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, offset, err
	}
	req.Header.Set("User-Agent", "chat-indexer/1.0")
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, offset, fmt.Errorf("rechat status %d: %s", resp.StatusCode, string(b))
	}
	var raw struct {
		Data []struct {
			Attributes struct {
				ID        string    `json:"id"`
				Timestamp time.Time `json:"timestamp"`
				Offset    float64   `json:"offset"`
				Message   struct {
					Body string `json:"body"`
					User struct {
						ID string `json:"id"`
					} `json:"user"`
				} `json:"message"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, offset, err
	}
	out := make([]rechatMessage, 0, len(raw.Data))
	for _, d := range raw.Data {
		a := d.Attributes
		out = append(out, rechatMessage{
			ID:     a.ID,
			UserID: a.Message.User.ID,
			Text:   a.Message.Body,
			Abs:    a.Timestamp,
			Rel:    a.Offset,
		})
	}
	next := offset + rechatStep
	if len(out) > 0 {
		if last := out[len(out)-1]; int(last.Rel)+1 > next {
			next = int(last.Rel) + 1
		}
	}
	return out, next, nil
}
