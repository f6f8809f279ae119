package chathistory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/metricord/metricord/internal/pkg/httpretry"
)

// messagePageSize bounds one history page from the gateway.
const messagePageSize = 100

// HTTPClient implements CommunityClient against the chat gateway, a
// sidecar that re-exposes the platform's guilds, channel history and
// audit log as plain JSON. It never speaks the vendor protocol itself,
// so rate-limit and session handling stay in the sidecar.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient httpretry.HTTPDoer
}

// NewHTTPClient creates a gateway-backed community client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *HTTPClient) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

type guildPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type channelPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReadHistory bool   `json:"read_history"`
}

type messagePayload struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
	AuthorRoles  []string  `json:"author_roles"`
	AuthorIsBot  bool      `json:"author_is_bot"`
	Timestamp    time.Time `json:"timestamp"`
	Content      string    `json:"content"`
	ReferenceID  string    `json:"reference_id"`
}

type messagePage struct {
	Messages   []messagePayload `json:"messages"`
	NextCursor string           `json:"next_cursor"`
}

type auditPayload struct {
	ID            string     `json:"id"`
	ActorID       string     `json:"actor_id"`
	ActorName     string     `json:"actor_name"`
	ActorIsBot    bool       `json:"actor_is_bot"`
	Kind          string     `json:"kind"`
	Timestamp     time.Time  `json:"timestamp"`
	TimedOutUntil *time.Time `json:"timed_out_until"`
}

type auditPage struct {
	Entries    []auditPayload `json:"entries"`
	NextCursor string         `json:"next_cursor"`
}

func (c *HTTPClient) fetchJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrGuildNotFound
	case http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return ErrPermissionDenied
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway error for %s (status %d): %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// Guild resolves a guild by id.
func (c *HTTPClient) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var payload guildPayload
	if err := c.fetchJSON(ctx, "/guilds/"+guildID, nil, &payload); err != nil {
		return nil, err
	}
	return &Guild{ID: payload.ID, Name: payload.Name}, nil
}

// Channels lists the guild's text channels.
func (c *HTTPClient) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	var payload struct {
		Channels []channelPayload `json:"channels"`
	}
	if err := c.fetchJSON(ctx, "/guilds/"+guildID+"/channels", nil, &payload); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(payload.Channels))
	for _, ch := range payload.Channels {
		channels = append(channels, Channel{ID: ch.ID, Name: ch.Name, ReadHistory: ch.ReadHistory})
	}
	return channels, nil
}

// MessagesSince pages through a channel's history cursor by cursor,
// oldest first.
func (c *HTTPClient) MessagesSince(ctx context.Context, channelID string, since time.Time, fn func(Message) error) error {
	cursor := ""
	for {
		query := url.Values{
			"since": {since.UTC().Format(time.RFC3339)},
			"limit": {fmt.Sprint(messagePageSize)},
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var page messagePage
		if err := c.fetchJSON(ctx, "/channels/"+channelID+"/messages", query, &page); err != nil {
			return err
		}
		for _, m := range page.Messages {
			msg := Message{
				ID:           m.ID,
				AuthorID:     m.AuthorID,
				AuthorName:   m.AuthorName,
				AuthorAvatar: m.AuthorAvatar,
				AuthorRoles:  m.AuthorRoles,
				AuthorIsBot:  m.AuthorIsBot,
				Timestamp:    m.Timestamp,
				Content:      m.Content,
				IsReply:      m.ReferenceID != "",
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// AuditLogSince pages through the guild's audit log, oldest first.
func (c *HTTPClient) AuditLogSince(ctx context.Context, guildID string, since time.Time, fn func(AuditEntry) error) error {
	cursor := ""
	for {
		query := url.Values{
			"since": {since.UTC().Format(time.RFC3339)},
			"limit": {fmt.Sprint(messagePageSize)},
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var page auditPage
		if err := c.fetchJSON(ctx, "/guilds/"+guildID+"/audit-log", query, &page); err != nil {
			return err
		}
		for _, e := range page.Entries {
			entry := AuditEntry{
				ID:            e.ID,
				ActorID:       e.ActorID,
				ActorName:     e.ActorName,
				ActorIsBot:    e.ActorIsBot,
				Kind:          e.Kind,
				Timestamp:     e.Timestamp,
				TimedOutUntil: e.TimedOutUntil,
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

var _ CommunityClient = (*HTTPClient)(nil)
