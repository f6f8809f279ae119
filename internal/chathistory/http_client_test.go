package chathistory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/guilds/g1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(guildPayload{ID: "g1", Name: "test guild"})
	})
	mux.HandleFunc("/guilds/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/guilds/g1/channels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]channelPayload{
			"channels": {
				{ID: "c1", Name: "general", ReadHistory: true},
				{ID: "c2", Name: "mod-only", ReadHistory: false},
			},
		})
	})
	mux.HandleFunc("/channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		// Two pages linked by cursor.
		if r.URL.Query().Get("cursor") == "p2" {
			json.NewEncoder(w).Encode(messagePage{
				Messages: []messagePayload{
					{ID: "m2", AuthorID: "u2", Timestamp: base.Add(time.Minute), Content: "reply", ReferenceID: "m1"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(messagePage{
			Messages: []messagePayload{
				{ID: "m1", AuthorID: "u1", Timestamp: base, Content: "first"},
			},
			NextCursor: "p2",
		})
	})
	mux.HandleFunc("/channels/denied/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/guilds/g1/audit-log", func(w http.ResponseWriter, r *http.Request) {
		until := base.Add(time.Hour)
		json.NewEncoder(w).Encode(auditPage{
			Entries: []auditPayload{
				{ID: "a1", ActorID: "mod1", Kind: "ban", Timestamp: base},
				{ID: "a2", ActorID: "mod1", Kind: "member_update", Timestamp: base, TimedOutUntil: &until},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGatewayClient(t *testing.T, srv *httptest.Server) *HTTPClient {
	t.Helper()
	return NewHTTPClient(srv.URL, "tok", 5*time.Second)
}

func TestHTTPClientGuild(t *testing.T) {
	srv := gatewayServer(t)
	c := newGatewayClient(t, srv)

	g, err := c.Guild(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "test guild", g.Name)

	_, err = c.Guild(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrGuildNotFound)
}

func TestHTTPClientChannels(t *testing.T) {
	srv := gatewayServer(t)
	c := newGatewayClient(t, srv)

	channels, err := c.Channels(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.True(t, channels[0].ReadHistory)
	assert.False(t, channels[1].ReadHistory)
}

func TestHTTPClientMessagesPagination(t *testing.T) {
	srv := gatewayServer(t)
	c := newGatewayClient(t, srv)

	var got []Message
	err := c.MessagesSince(context.Background(), "c1", time.Time{}, func(m Message) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.False(t, got[0].IsReply)
	assert.Equal(t, "m2", got[1].ID)
	assert.True(t, got[1].IsReply)
}

func TestHTTPClientMessagesPermissionDenied(t *testing.T) {
	srv := gatewayServer(t)
	c := newGatewayClient(t, srv)

	err := c.MessagesSince(context.Background(), "denied", time.Time{}, func(Message) error {
		t.Fatal("callback must not run on denial")
		return nil
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestHTTPClientAuditLog(t *testing.T) {
	srv := gatewayServer(t)
	c := newGatewayClient(t, srv)

	var got []AuditEntry
	err := c.AuditLogSince(context.Background(), "g1", time.Time{}, func(e AuditEntry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ban", got[0].Kind)
	require.NotNil(t, got[1].TimedOutUntil)
}
