// Package stats owns the rollup key schema and the single write path
// that turns canonical events into per-guild aggregates in Redis.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/event"
)

// WeightFunc supplies the per-action-type weight for the moderation
// leaderboard. The default weights every action at 1.
type WeightFunc func(event.ActionType) float64

func defaultWeight(event.ActionType) float64 { return 1 }

// Writer applies events to every derived rollup. All updates are
// key-scoped increments, sorted-set inserts, or probabilistic adds, so
// concurrent writers never need external locking.
type Writer struct {
	redis  *redis.Client
	weight WeightFunc
}

// NewWriter creates an aggregation writer over the given Redis client.
func NewWriter(client *redis.Client) *Writer {
	return &Writer{redis: client, weight: defaultWeight}
}

// SetWeightFunc overrides the moderation-action weight table.
func (w *Writer) SetWeightFunc(fn WeightFunc) {
	if fn != nil {
		w.weight = fn
	}
}

// msgSummary is the compact per-user event stream entry for messages.
type msgSummary struct {
	Len     int    `json:"len"`
	Reply   bool   `json:"reply"`
	Channel string `json:"channel,omitempty"`
}

// actionSummary is the compact per-user event stream entry for
// moderation actions.
type actionSummary struct {
	Type string `json:"type"`
}

// Apply updates every rollup for a single event.
func (w *Writer) Apply(ctx context.Context, ev event.Event) error {
	return w.ApplyBatch(ctx, []event.Event{ev})
}

// ApplyBatch applies a batch of events as one pipelined write. Individual
// rollup updates are commutative, so no cross-event atomicity is needed
// beyond the pipeline's single round trip.
func (w *Writer) ApplyBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := w.redis.Pipeline()
	for _, ev := range events {
		w.enqueue(ctx, pipe, ev)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply batch of %d events: %w", len(events), err)
	}
	return nil
}

func (w *Writer) enqueue(ctx context.Context, pipe redis.Pipeliner, ev event.Event) {
	ts := ev.Timestamp.UTC()
	day := DayKey(ts)
	guild := ev.GuildID
	user := ev.Author.String()

	// Every event marks its author active for the day. The estimator is
	// bounded-memory regardless of how many distinct users it sees.
	pipe.PFAdd(ctx, dauKey(guild, day), user)

	if ev.Kind == event.SourceChatAction {
		data, _ := json.Marshal(actionSummary{Type: string(ev.Action)})
		pipe.ZAdd(ctx, eventsActionKey(guild, user), redis.Z{
			Score:  float64(ts.Unix()),
			Member: string(data),
		})
		pipe.ZIncrBy(ctx, actionLeaderboardKey(guild), w.weight(ev.Action), user)
		return
	}

	hour := ts.Hour()
	// Monday-based weekday, matching the heatmap row layout.
	weekday := (int(ts.Weekday()) + 6) % 7

	hk := hourlyKey(guild, day)
	pipe.HIncrBy(ctx, hk, strconv.Itoa(hour), 1)
	pipe.Expire(ctx, hk, statsTTL)

	hm := heatmapKey(guild)
	pipe.HIncrBy(ctx, hm, fmt.Sprintf("%d_%d", weekday, hour), 1)
	pipe.Expire(ctx, hm, statsTTL)

	pipe.ZIncrBy(ctx, msgLenKey(guild), 1, event.LengthBucket(ev.Length))
	pipe.Incr(ctx, totalMsgsKey(guild))

	if ev.Channel != "" {
		pipe.ZIncrBy(ctx, channelTotalKey(guild), 1, ev.Channel)
	}
	pipe.ZIncrBy(ctx, leaderboardKey(guild), 1, user)

	data, _ := json.Marshal(msgSummary{Len: ev.Length, Reply: ev.IsReply, Channel: ev.Channel})
	pipe.ZAdd(ctx, eventsMsgKey(guild, user), redis.Z{
		Score:  float64(ts.Unix()),
		Member: string(data),
	})
}

// SetPresence records snapshot roster gauges supplied by a source's
// site-statistics endpoint. These bypass the event pipeline: they are
// facts about the current state, not events.
func (w *Writer) SetPresence(ctx context.Context, guild string, total, online int) error {
	pipe := w.redis.Pipeline()
	pipe.Set(ctx, presTotalKey(guild), total, 0)
	pipe.Set(ctx, presOnlineKey(guild), online, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set presence for guild %s: %w", guild, err)
	}
	return nil
}
