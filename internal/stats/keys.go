package stats

import (
	"fmt"
	"time"
)

// Redis key shapes. Every derived key is namespaced by guild id and,
// where per-day or per-user, by YYYYMMDD or the tagged user id.
const (
	keyDAU          = "hll:dau:%s:%s"           // guild, day
	keyHourly       = "stats:hourly:%s:%s"      // guild, day (hash hour -> count)
	keyMsgLen       = "stats:msglen:%s"         // guild (zset member = bucket label)
	keyHeatmap      = "stats:heatmap:%s"        // guild (hash "weekday_hour" -> count)
	keyTotalMsgs    = "stats:total_msgs:%s"     // guild
	keyChannelTotal = "stats:channel_total:%s"  // guild (zset member = channel id)
	keyLeaderboard  = "leaderboard:messages:%s" // guild (zset member = user id)
	keyActionBoard  = "leaderboard:actions:%s"  // guild (zset member = user id, weighted)
	keyEventsMsg    = "events:msg:%s:%s"        // guild, user (zset score = unix ts)
	keyEventsAction = "events:action:%s:%s"     // guild, user (zset score = unix ts)
	keyUserInfo     = "user:info:%s"            // user
	keyPresTotal    = "presence:total:%s"       // guild
	keyPresOnline   = "presence:online:%s"      // guild
)

const (
	// statsTTL bounds how long windowed aggregates survive without a
	// refresh; matches the legacy 60-day retention.
	statsTTL = 60 * 24 * time.Hour

	// userInfoTTL lets cached user info self-expire for inactive users.
	userInfoTTL = 7 * 24 * time.Hour
)

// DayKey formats a timestamp as the per-day key component, in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

func dauKey(guild, day string) string { return fmt.Sprintf(keyDAU, guild, day) }

func hourlyKey(guild, day string) string { return fmt.Sprintf(keyHourly, guild, day) }

func msgLenKey(guild string) string { return fmt.Sprintf(keyMsgLen, guild) }

func heatmapKey(guild string) string { return fmt.Sprintf(keyHeatmap, guild) }

func totalMsgsKey(guild string) string { return fmt.Sprintf(keyTotalMsgs, guild) }

func channelTotalKey(guild string) string { return fmt.Sprintf(keyChannelTotal, guild) }

func leaderboardKey(guild string) string { return fmt.Sprintf(keyLeaderboard, guild) }

func actionLeaderboardKey(guild string) string { return fmt.Sprintf(keyActionBoard, guild) }

func eventsMsgKey(guild, user string) string { return fmt.Sprintf(keyEventsMsg, guild, user) }

func eventsActionKey(guild, user string) string { return fmt.Sprintf(keyEventsAction, guild, user) }

func userInfoKey(user string) string { return fmt.Sprintf(keyUserInfo, user) }

func presTotalKey(guild string) string { return fmt.Sprintf(keyPresTotal, guild) }

func presOnlineKey(guild string) string { return fmt.Sprintf(keyPresOnline, guild) }
