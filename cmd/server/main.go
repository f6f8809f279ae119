package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/api"
	"github.com/metricord/metricord/internal/chathistory"
	"github.com/metricord/metricord/internal/config"
	"github.com/metricord/metricord/internal/forumsync"
	"github.com/metricord/metricord/internal/stats"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid Redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Redis unreachable at %s: %v", opts.Addr, err)
	}
	pingCancel()
	log.Printf("Connected to Redis at %s", opts.Addr)

	writer := stats.NewWriter(rdb)
	reader := stats.NewReader(rdb)

	// Forum importer runs for the life of the process.
	forumClient := forumsync.NewClient(cfg.ForumSync.RequestTimeout(), cfg.ForumSync.MaxRetries)
	syncer := forumsync.NewSyncer(rdb, forumClient, writer, cfg.ForumSync.Interval(), cfg.ForumSync.LookbackDays)
	syncer.Start()

	var community chathistory.CommunityClient
	if cfg.Chat.GatewayURL != "" {
		community = chathistory.NewHTTPClient(cfg.Chat.GatewayURL, cfg.Chat.Token, cfg.Chat.RequestTimeout())
		log.Printf("Chat gateway configured at %s", cfg.Chat.GatewayURL)
	} else {
		community = chathistory.Unavailable{}
		log.Println("No chat gateway configured; backfill endpoint will refuse requests")
	}
	backfill := chathistory.NewBackfill(community, rdb, writer,
		cfg.Backfill.LookbackDays, cfg.Backfill.ProgressTTL(), cfg.Backfill.LockTTL())

	server := api.NewServer(api.NewHandlers(rdb, reader, backfill))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	syncer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}

	log.Println("Server stopped")
}
