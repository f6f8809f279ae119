package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/event"
)

// UserInfo is the cached display profile for a user. Entries are
// refreshed opportunistically whenever an event for the user is
// aggregated and self-expire after seven days of inactivity.
type UserInfo struct {
	Name   string
	Avatar string
	Roles  []string
}

// UserInfoCache stores per-user display info with a bounded TTL.
type UserInfoCache struct {
	redis *redis.Client
}

// NewUserInfoCache creates a user info cache over the given Redis client.
func NewUserInfoCache(client *redis.Client) *UserInfoCache {
	return &UserInfoCache{redis: client}
}

// Put refreshes the cached info for a user and resets its TTL.
func (c *UserInfoCache) Put(ctx context.Context, user event.UserRef, info UserInfo) error {
	key := userInfoKey(user.String())
	pipe := c.redis.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":   info.Name,
		"avatar": info.Avatar,
		"roles":  strings.Join(info.Roles, ","),
	})
	pipe.Expire(ctx, key, userInfoTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache user info for %s: %w", user, err)
	}
	return nil
}

// Get returns the cached info for a user, or ok=false if it expired.
func (c *UserInfoCache) Get(ctx context.Context, user event.UserRef) (UserInfo, bool, error) {
	vals, err := c.redis.HGetAll(ctx, userInfoKey(user.String())).Result()
	if err != nil {
		return UserInfo{}, false, fmt.Errorf("read user info for %s: %w", user, err)
	}
	if len(vals) == 0 {
		return UserInfo{}, false, nil
	}
	info := UserInfo{Name: vals["name"], Avatar: vals["avatar"]}
	if roles := vals["roles"]; roles != "" {
		info.Roles = strings.Split(roles, ",")
	}
	return info, true, nil
}
