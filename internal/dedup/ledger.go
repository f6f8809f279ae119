// Package dedup provides the per-source idempotency ledger that keeps a
// replayed origin item from being aggregated twice across runs.
package dedup

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Ledger records processed origin-native ids per (source, guild) in a
// Redis set. Membership checks fail open: if the store errors, the item
// is reported unseen, because the rollups tolerate a rare overcount far
// better than a silent gap.
type Ledger struct {
	redis *redis.Client
}

// NewLedger creates a dedup ledger over the given Redis client.
func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{redis: client}
}

func (l *Ledger) key(source, guild string) string {
	return fmt.Sprintf("%s:processed:%s", source, guild)
}

// Seen reports whether the origin id was already processed for this
// source and guild.
func (l *Ledger) Seen(ctx context.Context, source, guild, originID string) bool {
	seen, err := l.redis.SIsMember(ctx, l.key(source, guild), originID).Result()
	if err != nil {
		log.Printf("[Dedup] membership check failed for %s/%s id %s: %v (treating as unseen)",
			source, guild, originID, err)
		return false
	}
	return seen
}

// Mark records the origin id as processed. Items outside the active
// lookback window are marked too, so widening the window later does not
// resurrect them.
func (l *Ledger) Mark(ctx context.Context, source, guild, originID string) error {
	if err := l.redis.SAdd(ctx, l.key(source, guild), originID).Err(); err != nil {
		return fmt.Errorf("mark %s/%s id %s processed: %w", source, guild, originID, err)
	}
	return nil
}
