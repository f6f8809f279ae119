package forumsync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/dedup"
	"github.com/metricord/metricord/internal/event"
	"github.com/metricord/metricord/internal/stats"
)

// dedupSource namespaces the forum importer's processed-id sets.
const dedupSource = "forum"

// Configuration keys. Integrations register their guild id in the
// membership set and store credentials in a per-guild hash.
const (
	keyGuildSet = "forum:guilds"
	keyConf     = "forum:conf:%s" // guild (hash: url, api_key, api_user)
)

// Syncer is the perpetual forum importer. Each cycle it synchronizes
// every configured integration; a failure in one never aborts the
// others. Stop lets the current integration finish, then exits the
// loop without starting the next sleep.
type Syncer struct {
	redis  *redis.Client
	client *Client
	writer *stats.Writer
	ledger *dedup.Ledger
	users  *stats.UserInfoCache

	interval time.Duration
	lookback time.Duration

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSyncer creates a forum sync worker.
func NewSyncer(rdb *redis.Client, client *Client, writer *stats.Writer, interval time.Duration, lookbackDays int) *Syncer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Syncer{
		redis:    rdb,
		client:   client,
		writer:   writer,
		ledger:   dedup.NewLedger(rdb),
		users:    stats.NewUserInfoCache(rdb),
		interval: interval,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
	}
}

// Start begins the sync loop.
func (s *Syncer) Start() {
	if s.running {
		return
	}

	s.running = true
	s.stop = make(chan struct{})

	log.Printf("[ForumSync] Starting with sync interval %v", s.interval)

	s.wg.Add(1)
	go s.runLoop()
}

// Stop gracefully stops the worker. The stop signal is a channel, not
// a context cancel, so the integration being synced finishes its
// in-flight requests before the loop exits.
func (s *Syncer) Stop() {
	if !s.running {
		return
	}

	log.Println("[ForumSync] Stopping...")
	close(s.stop)
	s.wg.Wait()
	s.running = false
	log.Println("[ForumSync] Stopped")
}

func (s *Syncer) stopRequested() bool {
	if s.stop == nil {
		return false
	}
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Syncer) runLoop() {
	defer s.wg.Done()

	ctx := context.Background()

	// First cycle runs immediately; afterwards the ticker paces us.
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce synchronizes every configured integration a single time.
func (s *Syncer) RunOnce(ctx context.Context) {
	guilds, err := s.redis.SMembers(ctx, keyGuildSet).Result()
	if err != nil {
		log.Printf("[ForumSync] Error listing integrations: %v", err)
		return
	}
	if len(guilds) == 0 {
		return
	}

	log.Printf("[ForumSync] Syncing %d forum integrations", len(guilds))
	for _, guild := range guilds {
		// Honor a stop between integrations, never mid-integration.
		if ctx.Err() != nil || s.stopRequested() {
			return
		}
		if err := s.syncGuild(ctx, guild); err != nil {
			log.Printf("[ForumSync] Error syncing guild %s: %v", guild, err)
		}
	}
}

// syncGuild fetches posts, topics, and site statistics for a single
// integration.
func (s *Syncer) syncGuild(ctx context.Context, guild string) error {
	conf, err := s.redis.HGetAll(ctx, fmt.Sprintf(keyConf, guild)).Result()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	creds := Credentials{
		BaseURL: conf["url"],
		APIKey:  conf["api_key"],
		APIUser: conf["api_user"],
	}
	if creds.BaseURL == "" || creds.APIKey == "" {
		log.Printf("[ForumSync] Guild %s has no usable configuration, skipping", guild)
		return nil
	}

	if topics, err := s.client.LatestTopics(ctx, creds); err != nil {
		log.Printf("[ForumSync] Error fetching topics for %s: %v", guild, err)
	} else {
		log.Printf("[ForumSync] Guild %s: %d recent topics", guild, len(topics))
	}

	posts, err := s.client.LatestPosts(ctx, creds)
	if err != nil {
		log.Printf("[ForumSync] Error fetching posts for %s: %v", guild, err)
	} else {
		for _, p := range posts {
			if err := s.ProcessPost(ctx, guild, p); err != nil {
				log.Printf("[ForumSync] Error processing post %d for %s: %v", p.ID, guild, err)
			}
		}
	}

	siteStats, err := s.client.SiteStatistics(ctx, creds)
	if err != nil {
		log.Printf("[ForumSync] Error fetching site statistics for %s: %v", guild, err)
		return nil
	}
	// Site statistics are snapshot gauges, not events; they bypass the
	// aggregation pipeline.
	if err := s.writer.SetPresence(ctx, guild, siteStats.UsersCount, siteStats.ActiveUsersLastDay); err != nil {
		log.Printf("[ForumSync] Error updating presence for %s: %v", guild, err)
	}

	return nil
}

// ProcessPost aggregates a single post, at most once per origin id.
// Posts older than the lookback window are marked processed without
// emitting an event so the next cycle skips them without backfilling
// history.
func (s *Syncer) ProcessPost(ctx context.Context, guild string, p Post) error {
	originID := strconv.FormatInt(p.ID, 10)
	if s.ledger.Seen(ctx, dedupSource, guild, originID) {
		return nil
	}

	if time.Since(p.CreatedAt) > s.lookback {
		return s.ledger.Mark(ctx, dedupSource, guild, originID)
	}

	author := event.ForumUser(strconv.FormatInt(p.UserID, 10))
	if err := s.users.Put(ctx, author, stats.UserInfo{Name: p.Username}); err != nil {
		log.Printf("[ForumSync] user info cache: %v", err)
	}

	body := p.Raw
	if body == "" {
		body = p.Cooked
	}

	ev := event.Event{
		Kind:      event.SourceForumPost,
		GuildID:   guild,
		Author:    author,
		Timestamp: p.CreatedAt,
		Channel:   fmt.Sprintf("topic-%d", p.TopicID),
		Length:    len([]rune(body)),
		IsReply:   p.PostNumber > 1,
		DedupKey:  originID,
	}
	if err := s.writer.Apply(ctx, ev); err != nil {
		// Leave the post unmarked so the next cycle retries it.
		return err
	}

	return s.ledger.Mark(ctx, dedupSource, guild, originID)
}
