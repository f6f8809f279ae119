package chathistory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/event"
	"github.com/metricord/metricord/internal/pkg/distlock"
	"github.com/metricord/metricord/internal/progress"
	"github.com/metricord/metricord/internal/stats"
)

// ErrBackfillInProgress is returned when a backfill for the same guild
// is already running. Overlapping runs would double-count, so new
// requests are rejected rather than superseding.
var ErrBackfillInProgress = errors.New("backfill already in progress for this guild")

// platformEpoch is the chat platform's minimum valid timestamp; lookback
// windows are clamped to it.
var platformEpoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// flushBatch bounds how many audit events accumulate before a pipelined
// write.
const flushBatch = 500

// Backfill runs one-shot historical imports. Each run is a minutes-to-
// hours job against a single guild; the per-guild lock rejects a second
// concurrent run.
type Backfill struct {
	client CommunityClient
	redis  *redis.Client
	writer *stats.Writer
	users  *stats.UserInfoCache

	lookbackDays int
	progressTTL  time.Duration
	lockTTL      time.Duration
}

// NewBackfill creates a backfill service.
func NewBackfill(client CommunityClient, rdb *redis.Client, writer *stats.Writer, lookbackDays int, progressTTL, lockTTL time.Duration) *Backfill {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Backfill{
		client:       client,
		redis:        rdb,
		writer:       writer,
		users:        stats.NewUserInfoCache(rdb),
		lookbackDays: lookbackDays,
		progressTTL:  progressTTL,
		lockTTL:      lockTTL,
	}
}

// Run imports the guild's message history and audit log into the rollup
// store, reporting progress throughout. The job is abortable between
// channels via ctx. History imports are idempotent by full-window
// recomputation, so this path carries no dedup ledger.
func (b *Backfill) Run(ctx context.Context, guildID string) error {
	lock, tracker, err := b.begin(ctx, guildID)
	if err != nil {
		return err
	}
	return b.run(ctx, guildID, lock, tracker)
}

// Start begins a backfill asynchronously and returns its run id. The
// per-guild lock is taken before returning, so a second trigger fails
// fast with ErrBackfillInProgress while callers poll progress.Load for
// the run's state.
func (b *Backfill) Start(ctx context.Context, guildID string) (string, error) {
	lock, tracker, err := b.begin(ctx, guildID)
	if err != nil {
		return "", err
	}
	go func() {
		if err := b.run(context.Background(), guildID, lock, tracker); err != nil {
			log.Printf("[Backfill] run %s failed: %v", tracker.RunID(), err)
		}
	}()
	return tracker.RunID(), nil
}

func (b *Backfill) begin(ctx context.Context, guildID string) (*distlock.Lock, *progress.Tracker, error) {
	lock := distlock.New(b.redis, "backfill:"+guildID, b.lockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire backfill lock: %w", err)
	}
	if !ok {
		return nil, nil, ErrBackfillInProgress
	}

	tracker := progress.NewTracker(b.redis, guildID, b.progressTTL)
	log.Printf("[Backfill] run %s starting for guild %s (%d days history)",
		tracker.RunID(), guildID, b.lookbackDays)
	return lock, tracker, nil
}

func (b *Backfill) run(ctx context.Context, guildID string, lock *distlock.Lock, tracker *progress.Tracker) error {
	// Terminal progress writes and the lock release go through a
	// detached context; a canceled job must still record its end state.
	final := context.WithoutCancel(ctx)
	defer lock.Release(final)

	guild, err := b.client.Guild(ctx, guildID)
	if err != nil {
		if errors.Is(err, ErrGuildNotFound) {
			tracker.Error(final, "Guild not found. Is the bot added?")
		} else {
			tracker.Error(final, err.Error())
		}
		return fmt.Errorf("resolve guild %s: %w", guildID, err)
	}

	if err := tracker.Set(ctx, progress.Record{Status: progress.StatusStarting}); err != nil {
		tracker.Error(final, err.Error())
		return err
	}

	since := time.Now().UTC().AddDate(0, 0, -b.lookbackDays)
	if since.Before(platformEpoch) {
		since = platformEpoch
	}

	msgCount, err := b.runMessagePhase(ctx, guild, since, tracker)
	if err != nil {
		tracker.Error(final, err.Error())
		return err
	}

	if err := tracker.Set(ctx, progress.Record{
		Status:   progress.StatusMessagesDone,
		Progress: 55,
		Messages: msgCount,
	}); err != nil {
		tracker.Error(final, err.Error())
		return err
	}

	actionCount := b.runAuditPhase(ctx, guild, since, tracker, msgCount)

	if err := tracker.Set(final, progress.Record{
		Status:   progress.StatusCompleted,
		Progress: 100,
		Messages: msgCount,
		Actions:  actionCount,
	}); err != nil {
		return err
	}

	log.Printf("[Backfill] run %s completed: %d messages, %d actions",
		tracker.RunID(), msgCount, actionCount)
	return nil
}

// runMessagePhase walks every readable channel, aggregating messages.
// Per-channel failures are logged and skipped; only cancellation aborts
// the phase. Progress covers 0-50% of the job.
func (b *Backfill) runMessagePhase(ctx context.Context, guild *Guild, since time.Time, tracker *progress.Tracker) (int, error) {
	channels, err := b.client.Channels(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list channels for guild %s: %w", guild.ID, err)
	}

	total := len(channels)
	if total == 0 {
		total = 1
	}
	msgCount := 0

	for idx, ch := range channels {
		// Abort points sit between channels so a cancelled job never
		// leaves a channel half-flushed.
		if ctx.Err() != nil {
			return msgCount, fmt.Errorf("backfill canceled: %w", ctx.Err())
		}

		if !ch.ReadHistory {
			log.Printf("[Backfill] skipping #%s (no read-history permission)", ch.Name)
			continue
		}

		var batch []event.Event
		err := b.client.MessagesSince(ctx, ch.ID, since, func(msg Message) error {
			if msg.AuthorIsBot {
				return nil
			}
			author := event.ChatUser(msg.AuthorID)
			batch = append(batch, event.Event{
				Kind:      event.SourceChatMessage,
				GuildID:   guild.ID,
				Author:    author,
				Timestamp: msg.Timestamp,
				Channel:   ch.ID,
				Length:    len([]rune(msg.Content)),
				IsReply:   msg.IsReply,
			})
			if err := b.users.Put(ctx, author, stats.UserInfo{
				Name:   msg.AuthorName,
				Avatar: msg.AuthorAvatar,
				Roles:  msg.AuthorRoles,
			}); err != nil {
				log.Printf("[Backfill] user info cache: %v", err)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				log.Printf("[Backfill] skipping #%s (forbidden)", ch.Name)
			} else {
				log.Printf("[Backfill] error reading channel #%s: %v", ch.Name, err)
			}
			continue
		}

		if err := b.writer.ApplyBatch(ctx, batch); err != nil {
			log.Printf("[Backfill] flush for #%s failed: %v", ch.Name, err)
			continue
		}
		msgCount += len(batch)

		pct := (idx + 1) * 50 / total
		if err := tracker.Set(ctx, progress.Record{
			Status:         progress.StatusMessages,
			Progress:       pct,
			Messages:       msgCount,
			CurrentChannel: ch.Name,
		}); err != nil {
			log.Printf("[Backfill] progress update failed: %v", err)
		}
	}

	return msgCount, nil
}

// runAuditPhase imports moderation actions. Audit-log permission errors
// are non-fatal; the job completes with whatever it could read.
// Progress covers 50-100%.
func (b *Backfill) runAuditPhase(ctx context.Context, guild *Guild, since time.Time, tracker *progress.Tracker, msgCount int) int {
	if err := tracker.Set(ctx, progress.Record{
		Status:   progress.StatusAuditLogs,
		Progress: 60,
		Messages: msgCount,
	}); err != nil {
		log.Printf("[Backfill] progress update failed: %v", err)
	}

	actionCount := 0
	var batch []event.Event

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := b.writer.ApplyBatch(ctx, batch); err != nil {
			log.Printf("[Backfill] audit flush failed: %v", err)
			return
		}
		actionCount += len(batch)
		batch = batch[:0]
	}

	err := b.client.AuditLogSince(ctx, guild.ID, since, func(entry AuditEntry) error {
		if entry.ActorIsBot {
			return nil
		}
		action, ok := mapAction(entry)
		if !ok {
			return nil
		}
		actor := event.ChatUser(entry.ActorID)
		batch = append(batch, event.Event{
			Kind:      event.SourceChatAction,
			GuildID:   guild.ID,
			Author:    actor,
			Timestamp: entry.Timestamp,
			Action:    action,
		})
		if entry.ActorName != "" {
			if err := b.users.Put(ctx, actor, stats.UserInfo{Name: entry.ActorName}); err != nil {
				log.Printf("[Backfill] user info cache: %v", err)
			}
		}
		if len(batch) >= flushBatch {
			flush()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			log.Printf("[Backfill] no permission to read audit logs")
		} else {
			log.Printf("[Backfill] error reading audit logs: %v", err)
		}
	}
	flush()

	return actionCount
}

// mapAction translates an origin audit kind into a moderation action
// type. Generic member updates only count when the post-state shows a
// timeout was applied.
func mapAction(entry AuditEntry) (event.ActionType, bool) {
	switch entry.Kind {
	case "ban":
		return event.ActionBan, true
	case "kick":
		return event.ActionKick, true
	case "unban":
		return event.ActionUnban, true
	case "message_delete":
		return event.ActionMsgDelete, true
	case "member_role_update":
		return event.ActionRoleUpdate, true
	case "member_update":
		if entry.TimedOutUntil != nil && !entry.TimedOutUntil.IsZero() {
			return event.ActionTimeout, true
		}
	}
	return "", false
}
