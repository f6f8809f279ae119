package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricord/metricord/internal/chathistory"
	"github.com/metricord/metricord/internal/event"
	"github.com/metricord/metricord/internal/progress"
	"github.com/metricord/metricord/internal/stats"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// stubCommunity serves one guild with one readable channel. An optional
// gate channel holds the message phase open so in-progress behavior can
// be observed.
type stubCommunity struct {
	guildID  string
	messages []chathistory.Message
	gate     chan struct{}
}

func (s *stubCommunity) Guild(ctx context.Context, guildID string) (*chathistory.Guild, error) {
	if guildID != s.guildID {
		return nil, chathistory.ErrGuildNotFound
	}
	return &chathistory.Guild{ID: guildID, Name: "test guild"}, nil
}

func (s *stubCommunity) Channels(ctx context.Context, guildID string) ([]chathistory.Channel, error) {
	return []chathistory.Channel{{ID: "c1", Name: "general", ReadHistory: true}}, nil
}

func (s *stubCommunity) MessagesSince(ctx context.Context, channelID string, since time.Time, fn func(chathistory.Message) error) error {
	if s.gate != nil {
		<-s.gate
	}
	for _, m := range s.messages {
		if m.Timestamp.Before(since) {
			continue
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubCommunity) AuditLogSince(ctx context.Context, guildID string, since time.Time, fn func(chathistory.AuditEntry) error) error {
	return nil
}

func newTestServer(t *testing.T, rdb *redis.Client, community chathistory.CommunityClient) http.Handler {
	t.Helper()
	writer := stats.NewWriter(rdb)
	backfill := chathistory.NewBackfill(community, rdb, writer, 30, time.Hour, time.Hour)
	h := NewHandlers(rdb, stats.NewReader(rdb), backfill)
	return SetupRoutes(h)
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	handler := newTestServer(t, rdb, &stubCommunity{guildID: "g1"})

	rec := doRequest(t, handler, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = doRequest(t, handler, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGuildStats(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()

	writer := stats.NewWriter(rdb)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, writer.Apply(ctx, event.Event{
			Kind:      event.SourceChatMessage,
			GuildID:   "g1",
			Author:    event.ChatUser("111"),
			Timestamp: now,
			Channel:   "c1",
			Length:    25,
		}))
	}

	handler := newTestServer(t, rdb, &stubCommunity{guildID: "g1"})
	rec := doRequest(t, handler, http.MethodGet, "/api/guilds/g1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "g1", snap.GuildID)
	assert.Equal(t, int64(3), snap.TotalMessages)
	assert.Equal(t, int64(1), snap.DAU)
}

func TestGuildStatsBadDay(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	handler := newTestServer(t, rdb, &stubCommunity{guildID: "g1"})

	rec := doRequest(t, handler, http.MethodGet, "/api/guilds/g1/stats?day=not-a-day")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuildHealthScore(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()

	writer := stats.NewWriter(rdb)
	require.NoError(t, writer.SetPresence(ctx, "g1", 500, 60))

	handler := newTestServer(t, rdb, &stubCommunity{guildID: "g1"})
	rec := doRequest(t, handler, http.MethodGet,
		"/api/guilds/g1/health-score?moderator_count=7&verification_level=3&explicit_filter=2&mod_2fa=true&mod_actions=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		GuildID string `json:"guild_id"`
		Score   struct {
			Composite float64 `json:"composite"`
			TeamRatio float64 `json:"team_ratio"`
			Safety    float64 `json:"safety"`
		} `json:"score"`
		Band string `json:"band"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "g1", resp.GuildID)
	// 500 members over 7 mods sits inside the 50-100 band.
	assert.InDelta(t, 100.0, resp.Score.TeamRatio, 0.001)
	// Max verification and filter plus 2FA saturates safety.
	assert.InDelta(t, 100.0, resp.Score.Safety, 0.001)
	assert.NotEmpty(t, resp.Band)
}

func TestTriggerBackfill(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	community := &stubCommunity{
		guildID: "g1",
		messages: []chathistory.Message{{
			ID:        "m1",
			AuthorID:  "111",
			Timestamp: time.Now().UTC().Add(-time.Hour),
			Content:   "hello there",
		}},
	}
	handler := newTestServer(t, rdb, community)

	rec := doRequest(t, handler, http.MethodPost, "/api/guilds/g1/backfill")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])

	// Wait for the async run to reach a terminal state.
	ctx := context.Background()
	require.Eventually(t, func() bool {
		got, ok, err := progress.Load(ctx, rdb, "g1")
		return err == nil && ok && got.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	got, ok, err := progress.Load(ctx, rdb, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, got.Status)
	assert.Equal(t, resp["run_id"], got.RunID)
}

func TestTriggerBackfillConflict(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	gate := make(chan struct{})
	community := &stubCommunity{guildID: "g1", gate: gate}
	handler := newTestServer(t, rdb, community)

	rec := doRequest(t, handler, http.MethodPost, "/api/guilds/g1/backfill")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The first run is parked inside the message phase; a second
	// trigger must be rejected.
	rec = doRequest(t, handler, http.MethodPost, "/api/guilds/g1/backfill")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(gate)
}

func TestBackfillProgressNotFound(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	handler := newTestServer(t, rdb, &stubCommunity{guildID: "g1"})

	rec := doRequest(t, handler, http.MethodGet, "/api/guilds/g1/backfill")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
