// Package progress tracks the state of long-running backfill jobs so
// external consumers can poll them.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status is a backfill job phase. Completed and Error are terminal;
// consumers must stop polling once they observe either.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusMessages     Status = "processing_messages"
	StatusMessagesDone Status = "processing_messages_done"
	StatusAuditLogs    Status = "processing_audit_logs"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Record is the polled progress state of one backfill job.
type Record struct {
	RunID          string `json:"run_id"`
	Status         Status `json:"status"`
	Progress       int    `json:"progress"`
	Messages       int    `json:"messages,omitempty"`
	Actions        int    `json:"actions,omitempty"`
	CurrentChannel string `json:"current_channel,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Terminal reports whether the record's status ends the job.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

func key(guild string) string { return fmt.Sprintf("backfill:progress:%s", guild) }

// Tracker writes the progress record for one guild's backfill job. The
// reported percentage never decreases; regressions from callers are
// clamped to the last reported value. Not safe for concurrent use; each
// job owns its tracker.
type Tracker struct {
	redis   *redis.Client
	guild   string
	runID   uuid.UUID
	lastPct int
	ttl     time.Duration
}

// NewTracker creates a tracker for one job run. Terminal records expire
// after ttl so the progress keyspace stays bounded.
func NewTracker(client *redis.Client, guild string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{
		redis: client,
		guild: guild,
		runID: uuid.New(),
		ttl:   ttl,
	}
}

// RunID identifies this job run in logs and progress records.
func (t *Tracker) RunID() string { return t.runID.String() }

// Set overwrites the progress record. The percentage is clamped to
// [lastPct, 100] so the sequence stays monotonically non-decreasing.
func (t *Tracker) Set(ctx context.Context, rec Record) error {
	if rec.Progress < t.lastPct {
		rec.Progress = t.lastPct
	}
	if rec.Progress > 100 {
		rec.Progress = 100
	}
	t.lastPct = rec.Progress
	rec.RunID = t.runID.String()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}

	var expiry time.Duration
	if rec.Terminal() {
		expiry = t.ttl
	}
	if err := t.redis.Set(ctx, key(t.guild), data, expiry).Err(); err != nil {
		return fmt.Errorf("write progress for guild %s: %w", t.guild, err)
	}
	return nil
}

// Error marks the job failed with a descriptive message.
func (t *Tracker) Error(ctx context.Context, msg string) error {
	return t.Set(ctx, Record{Status: StatusError, Progress: t.lastPct, Message: msg})
}

// Load reads the current progress record for a guild. ok is false when
// no job has reported recently.
func Load(ctx context.Context, client *redis.Client, guild string) (Record, bool, error) {
	data, err := client.Get(ctx, key(guild)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read progress for guild %s: %w", guild, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode progress for guild %s: %w", guild, err)
	}
	return rec, true, nil
}
