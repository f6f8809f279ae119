// Package forumsync implements the interval-polled forum importer: it
// converts recent forum posts into events and site statistics into
// presence gauges.
package forumsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/metricord/metricord/internal/pkg/httpretry"
)

// Credentials identify one forum integration.
type Credentials struct {
	BaseURL string
	APIKey  string
	APIUser string
}

// Post is one forum post from the latest-posts feed.
type Post struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	TopicID    int64     `json:"topic_id"`
	PostNumber int       `json:"post_number"`
	Raw        string    `json:"raw"`
	Cooked     string    `json:"cooked"`
	CreatedAt  time.Time `json:"created_at"`
}

// Topic is one forum topic from the latest-topics feed.
type Topic struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	PostsCount int       `json:"posts_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SiteStats is the forum's site-wide statistics snapshot.
type SiteStats struct {
	UsersCount         int `json:"users_count"`
	ActiveUsersLastDay int `json:"active_users_last_day"`
}

type postsResponse struct {
	LatestPosts []Post `json:"latest_posts"`
}

type topicsResponse struct {
	TopicList struct {
		Topics []Topic `json:"topics"`
	} `json:"topic_list"`
}

// Client is the forum REST client. Requests authenticate with the
// integration's API key/username headers; 429 and transient failures
// retry with backoff inside the wrapped HTTP client.
type Client struct {
	httpClient httpretry.HTTPDoer
}

// NewClient creates a forum API client.
func NewClient(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

func (c *Client) fetchJSON(ctx context.Context, creds Credentials, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Api-Key", creds.APIKey)
	req.Header.Set("Api-Username", creds.APIUser)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forum API error for %s (status %d): %s", path, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// LatestPosts fetches the most recent posts across the forum.
func (c *Client) LatestPosts(ctx context.Context, creds Credentials) ([]Post, error) {
	var resp postsResponse
	if err := c.fetchJSON(ctx, creds, "/posts.json", &resp); err != nil {
		return nil, err
	}
	return resp.LatestPosts, nil
}

// LatestTopics fetches recently created topics.
func (c *Client) LatestTopics(ctx context.Context, creds Credentials) ([]Topic, error) {
	var resp topicsResponse
	if err := c.fetchJSON(ctx, creds, "/latest.json?order=created", &resp); err != nil {
		return nil, err
	}
	return resp.TopicList.Topics, nil
}

// SiteStatistics fetches the site-wide member and activity gauges.
func (c *Client) SiteStatistics(ctx context.Context, creds Credentials) (*SiteStats, error) {
	var stats SiteStats
	if err := c.fetchJSON(ctx, creds, "/site/statistics.json", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
