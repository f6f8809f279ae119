// Package chathistory implements the one-shot historical import of chat
// messages and moderation actions for a single guild.
package chathistory

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors a CommunityClient implementation is expected to
// return. Permission denials are per-channel and non-fatal; a missing
// guild is fatal for the whole job.
var (
	ErrGuildNotFound    = errors.New("guild not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Guild is the resolved target community.
type Guild struct {
	ID   string
	Name string
}

// Channel is one text channel within a guild. ReadHistory reflects
// whether the importer's credentials can page through its history.
type Channel struct {
	ID          string
	Name        string
	ReadHistory bool
}

// Message is one chat message as supplied by the origin. The origin's
// timestamp is the source of truth, not arrival order.
type Message struct {
	ID           string
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	AuthorRoles  []string
	AuthorIsBot  bool
	Timestamp    time.Time
	Content      string
	IsReply      bool
}

// AuditEntry is one audit-log record. TimedOutUntil is the post-action
// member state, used to recognize timeout application among generic
// member updates.
type AuditEntry struct {
	ID            string
	ActorID       string
	ActorName     string
	ActorIsBot    bool
	Kind          string
	Timestamp     time.Time
	TimedOutUntil *time.Time
}

// CommunityClient is the abstract chat-platform boundary. Pagination
// and rate limiting live inside implementations; enumeration callbacks
// receive items in the origin's chronological order.
type CommunityClient interface {
	// Guild resolves the target community, returning ErrGuildNotFound
	// if the importer is not a member.
	Guild(ctx context.Context, guildID string) (*Guild, error)

	// Channels lists the guild's text channels with permission flags.
	Channels(ctx context.Context, guildID string) ([]Channel, error)

	// MessagesSince pages through a channel's history from the given
	// time, invoking fn per message. Returns ErrPermissionDenied when
	// history is not readable.
	MessagesSince(ctx context.Context, channelID string, since time.Time, fn func(Message) error) error

	// AuditLogSince pages through the guild's audit log from the given
	// time, invoking fn per entry.
	AuditLogSince(ctx context.Context, guildID string, since time.Time, fn func(AuditEntry) error) error
}

// ErrNotConfigured is returned by Unavailable for every call.
var ErrNotConfigured = errors.New("chat gateway not configured")

// Unavailable is a CommunityClient for deployments without a chat
// gateway. Every backfill against it fails up front with
// ErrNotConfigured instead of hanging.
type Unavailable struct{}

func (Unavailable) Guild(context.Context, string) (*Guild, error) {
	return nil, ErrNotConfigured
}

func (Unavailable) Channels(context.Context, string) ([]Channel, error) {
	return nil, ErrNotConfigured
}

func (Unavailable) MessagesSince(context.Context, string, time.Time, func(Message) error) error {
	return ErrNotConfigured
}

func (Unavailable) AuditLogSince(context.Context, string, time.Time, func(AuditEntry) error) error {
	return ErrNotConfigured
}
