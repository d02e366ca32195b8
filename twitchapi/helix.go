// Package twitchapi contains minimal helpers for the Twitch Helix API: user
// lookups by id or login and listing archived videos, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv"

// maxUsersPerRequest is Helix's cap on id+login query values per /users call.
const maxUsersPerRequest = 100

// StatusError is returned for non-2xx Helix responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("helix status %d: %s", e.Code, e.Body) }

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// VideoMeta is an archived broadcast.
type VideoMeta struct{ ID, Title, Duration, CreatedAt string }

// HelixClient provides the Helix calls the message source needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

// get issues an authenticated GET and decodes the JSON body into out. A 401
// drops the cached app token and retries once with a fresh one.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	err := hc.getOnce(ctx, path, q, out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		hc.AppTokenSource.Invalidate()
		err = hc.getOnce(ctx, path, q, out)
	}
	return err
}

func (hc *HelixClient) getOnce(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUsers looks users up by id. Unknown ids are simply absent from the result.
func (hc *HelixClient) GetUsers(ctx context.Context, ids ...string) ([]User, error) {
	out := make([]User, 0, len(ids))
	for start := 0; start < len(ids); start += maxUsersPerRequest {
		end := min(start+maxUsersPerRequest, len(ids))
		q := url.Values{}
		for _, id := range ids[start:end] {
			q.Add("id", id)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "/helix/users", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// ListVideos lists archive videos for a user, newest first.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]VideoMeta, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("first", strconv.Itoa(first))
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data []struct {
			ID, Title, Duration string
			CreatedAt           string `json:"created_at"`
		} `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, "/helix/videos", q, &body); err != nil {
		return nil, "", err
	}
	out := make([]VideoMeta, 0, len(body.Data))
	for _, v := range body.Data {
		out = append(out, VideoMeta{ID: v.ID, Title: v.Title, Duration: v.Duration, CreatedAt: v.CreatedAt})
	}
	return out, body.Pagination.Cursor, nil
}
