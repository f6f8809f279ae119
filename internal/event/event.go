// Package event defines the canonical event shape shared by every
// source adapter. Adapters normalize origin-specific payloads (chat
// messages, audit-log entries, forum posts) into Event values before
// handing them to the aggregation writer.
package event

import (
	"fmt"
	"time"
)

// SourceKind identifies the origin category of an event.
type SourceKind string

const (
	SourceChatMessage SourceKind = "chat_message"
	SourceChatAction  SourceKind = "chat_moderation_action"
	SourceForumPost   SourceKind = "forum_post"
)

// ActionType classifies a moderation action event.
type ActionType string

const (
	ActionBan        ActionType = "ban"
	ActionKick       ActionType = "kick"
	ActionUnban      ActionType = "unban"
	ActionMsgDelete  ActionType = "msg_delete"
	ActionRoleUpdate ActionType = "role_update"
	ActionTimeout    ActionType = "timeout"
)

// Origin tags a user identifier with its numeric namespace. Chat IDs are
// snowflakes, forum IDs are small sequential integers; the two spaces are
// kept apart by the tag rather than by numeric-range assumptions.
type Origin string

const (
	OriginChat  Origin = "chat"
	OriginForum Origin = "forum"
)

// UserRef is a tagged user identifier. Chat users render as the bare
// snowflake (matching the legacy key layout); every other origin is
// prefixed with its tag.
type UserRef struct {
	Origin Origin
	ID     string
}

func ChatUser(id string) UserRef  { return UserRef{Origin: OriginChat, ID: id} }
func ForumUser(id string) UserRef { return UserRef{Origin: OriginForum, ID: id} }

func (u UserRef) String() string {
	if u.Origin == OriginChat {
		return u.ID
	}
	return fmt.Sprintf("%s:%s", u.Origin, u.ID)
}

// IsZero reports whether the reference is unset.
func (u UserRef) IsZero() bool { return u.ID == "" }

// Event is the canonical unit processed by the pipeline.
type Event struct {
	Kind      SourceKind
	GuildID   string
	Author    UserRef
	Timestamp time.Time // UTC
	Channel   string    // text channel id, or "topic-<id>" for forum posts
	Length    int       // body length in characters, 0 for moderation actions
	IsReply   bool
	Action    ActionType // set only for SourceChatAction
	DedupKey  string     // origin-native id for replay-guarded sources, "" otherwise
}

// lengthBuckets are the fixed, non-overlapping message-length buckets.
// The labels must match across every source feeding the same guild,
// otherwise the length distribution chart becomes incoherent.
var lengthBuckets = []struct {
	max   int
	label string
}{
	{0, "0"},
	{10, "5"},
	{50, "30"},
	{100, "75"},
	{200, "150"},
}

// LengthBucket maps a message length onto its distribution bucket label.
// Total over [0, inf): 0 -> "0", 1-10 -> "5", 11-50 -> "30",
// 51-100 -> "75", 101-200 -> "150", everything above -> "250".
func LengthBucket(length int) string {
	for _, b := range lengthBuckets {
		if length <= b.max {
			return b.label
		}
	}
	return "250"
}
