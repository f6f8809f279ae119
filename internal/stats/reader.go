package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LengthBucketLabels is the fixed ordering of the message-length
// distribution buckets as they appear in a snapshot.
var LengthBucketLabels = []string{"0", "5", "30", "75", "150", "250"}

// BoardEntry is one row of a leaderboard.
type BoardEntry struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// Snapshot is the strongly-typed aggregate read model for one guild.
// Each section mirrors one rollup; nothing is duplicated under
// multiple names.
type Snapshot struct {
	GuildID        string           `json:"guild_id"`
	Day            string           `json:"day"`
	TotalMessages  int64            `json:"total_messages"`
	Hourly         [24]int64        `json:"hourly"`
	Heatmap        [7][24]int64     `json:"heatmap"`
	LengthDist     map[string]int64 `json:"length_dist"`
	ChannelTotals  map[string]int64 `json:"channel_totals"`
	Leaderboard    []BoardEntry     `json:"leaderboard"`
	ActionBoard    []BoardEntry     `json:"action_leaderboard"`
	DAU            int64            `json:"dau"`
	WAU            int64            `json:"wau"`
	MAU            int64            `json:"mau"`
	PresenceTotal  int64            `json:"presence_total"`
	PresenceOnline int64            `json:"presence_online"`
}

// Reader assembles typed snapshots from the rollup store. It only
// reads; WAU/MAU merge the day estimators with a multi-key PFCOUNT.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a rollup reader over the given Redis client.
func NewReader(client *redis.Client) *Reader {
	return &Reader{redis: client}
}

// ActiveUsers returns the estimated number of distinct users active on
// any of the given days. The HyperLogLog union is commutative and
// idempotent, so day order and repeated days do not change the result.
func (r *Reader) ActiveUsers(ctx context.Context, guild string, days []string) (int64, error) {
	if len(days) == 0 {
		return 0, nil
	}
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = dauKey(guild, d)
	}
	n, err := r.redis.PFCount(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("count active users for guild %s: %w", guild, err)
	}
	return n, nil
}

// trailingDays lists the day keys for the window ending at end, newest
// last.
func trailingDays(end time.Time, n int) []string {
	days := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, DayKey(end.AddDate(0, 0, -i)))
	}
	return days
}

// Snapshot reads every rollup section for the given guild. The day
// parameter selects which calendar day the hourly histogram and DAU
// cover; WAU/MAU are the trailing 7 and 30 days ending on it.
func (r *Reader) Snapshot(ctx context.Context, guild string, day time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		GuildID:       guild,
		Day:           DayKey(day),
		LengthDist:    make(map[string]int64, len(LengthBucketLabels)),
		ChannelTotals: make(map[string]int64),
	}
	for _, label := range LengthBucketLabels {
		snap.LengthDist[label] = 0
	}

	pipe := r.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalMsgsKey(guild))
	hourlyCmd := pipe.HGetAll(ctx, hourlyKey(guild, snap.Day))
	heatmapCmd := pipe.HGetAll(ctx, heatmapKey(guild))
	lenCmd := pipe.ZRangeWithScores(ctx, msgLenKey(guild), 0, -1)
	chanCmd := pipe.ZRevRangeWithScores(ctx, channelTotalKey(guild), 0, -1)
	boardCmd := pipe.ZRevRangeWithScores(ctx, leaderboardKey(guild), 0, 9)
	actionCmd := pipe.ZRevRangeWithScores(ctx, actionLeaderboardKey(guild), 0, 9)
	presTotalCmd := pipe.Get(ctx, presTotalKey(guild))
	presOnlineCmd := pipe.Get(ctx, presOnlineKey(guild))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read snapshot for guild %s: %w", guild, err)
	}

	snap.TotalMessages, _ = totalCmd.Int64()
	snap.PresenceTotal, _ = presTotalCmd.Int64()
	snap.PresenceOnline, _ = presOnlineCmd.Int64()

	for field, val := range hourlyCmd.Val() {
		h, err := strconv.Atoi(field)
		if err != nil || h < 0 || h > 23 {
			continue
		}
		n, _ := strconv.ParseInt(val, 10, 64)
		snap.Hourly[h] = n
	}

	for field, val := range heatmapCmd.Val() {
		parts := strings.SplitN(field, "_", 2)
		if len(parts) != 2 {
			continue
		}
		w, err1 := strconv.Atoi(parts[0])
		h, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || w < 0 || w > 6 || h < 0 || h > 23 {
			continue
		}
		n, _ := strconv.ParseInt(val, 10, 64)
		snap.Heatmap[w][h] = n
	}

	for _, z := range lenCmd.Val() {
		if label, ok := z.Member.(string); ok {
			snap.LengthDist[label] = int64(z.Score)
		}
	}
	for _, z := range chanCmd.Val() {
		if ch, ok := z.Member.(string); ok {
			snap.ChannelTotals[ch] = int64(z.Score)
		}
	}
	snap.Leaderboard = toBoard(boardCmd.Val())
	snap.ActionBoard = toBoard(actionCmd.Val())

	var err error
	if snap.DAU, err = r.ActiveUsers(ctx, guild, []string{snap.Day}); err != nil {
		return nil, err
	}
	if snap.WAU, err = r.ActiveUsers(ctx, guild, trailingDays(day, 7)); err != nil {
		return nil, err
	}
	if snap.MAU, err = r.ActiveUsers(ctx, guild, trailingDays(day, 30)); err != nil {
		return nil, err
	}

	return snap, nil
}

func toBoard(zs []redis.Z) []BoardEntry {
	entries := make([]BoardEntry, 0, len(zs))
	for _, z := range zs {
		if uid, ok := z.Member.(string); ok {
			entries = append(entries, BoardEntry{UserID: uid, Score: z.Score})
		}
	}
	return entries
}
