package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/chathistory"
	"github.com/metricord/metricord/internal/config"
	"github.com/metricord/metricord/internal/stats"
)

func main() {
	var (
		guildID    = flag.String("guild", "", "guild id to backfill (required)")
		days       = flag.Int("days", 0, "history lookback in days (default from config)")
		configPath = flag.String("config", "config/config.yaml", "path to config file")
	)
	flag.Parse()

	if *guildID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *days > 0 {
		cfg.Backfill.LookbackDays = *days
	}
	if cfg.Chat.GatewayURL == "" {
		log.Fatal("No chat gateway configured (set chat.gateway_url or CHAT_GATEWAY_URL)")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid Redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Redis unreachable at %s: %v", opts.Addr, err)
	}
	pingCancel()

	// The run aborts between channels on SIGINT/SIGTERM and records an
	// error progress state rather than leaving the job dangling.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	community := chathistory.NewHTTPClient(cfg.Chat.GatewayURL, cfg.Chat.Token, cfg.Chat.RequestTimeout())
	backfill := chathistory.NewBackfill(community, rdb, stats.NewWriter(rdb),
		cfg.Backfill.LookbackDays, cfg.Backfill.ProgressTTL(), cfg.Backfill.LockTTL())

	start := time.Now()
	if err := backfill.Run(ctx, *guildID); err != nil {
		if errors.Is(err, chathistory.ErrBackfillInProgress) {
			log.Fatalf("A backfill for guild %s is already running", *guildID)
		}
		log.Fatalf("Backfill failed: %v", err)
	}
	log.Printf("Backfill for guild %s finished in %s", *guildID, time.Since(start).Round(time.Second))
}
