package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/api"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/auth"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
	cfgpkg "github.com/ADY0404/ArtisanConnect-sub002/internal/config"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/events"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/logger"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/metrics"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/middleware"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/store"
	wspkg "github.com/ADY0404/ArtisanConnect-sub002/internal/ws"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, disconnect, err := store.Connect(context.Background(), cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		zl.Fatalw("mongo connect failed", "uri", cfg.Mongo.URI, "error", err)
	}
	defer func() { _ = disconnect(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	messages := store.NewMessageStore(db)
	pending := store.NewPendingQueue(db)
	presence := store.NewPresenceStore(db)
	directory := store.NewParticipantDirectory(db, messages)

	var publisher chat.Publisher
	var kafkaClose func() error
	if len(cfg.Kafka.Brokers) > 0 {
		p := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
		publisher = p
		kafkaClose = p.Close
	}

	registry := chat.NewRegistry()
	rooms := chat.NewRooms()
	handler := chat.NewHandler(registry, rooms, messages, pending, presence, directory, publisher, zl)

	wsrv := wspkg.NewServer(handler, wspkg.Options{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
	}, zl)

	var validator *auth.Validator
	if cfg.App.JWTSecret != "" {
		validator = auth.NewValidator(cfg.App.JWTSecret)
	}
	limiter := middleware.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Limit, cfg.RateWindow)

	app := api.New(api.Deps{
		WS:        wsrv,
		Messages:  messages,
		Presence:  presence,
		Validator: validator,
		Limiter:   limiter,
	})

	go func() {
		addr := ":" + cfg.Metrics.Port
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			zl.Warnw("metrics listener stopped", "error", err)
		}
	}()

	go func() {
		zl.Infow("chat service starting", "port", cfg.App.Port, "env", cfg.App.Env)
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			zl.Fatalw("server listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(ctx)
	if kafkaClose != nil {
		_ = kafkaClose()
	}
	zl.Info("chat service stopped")
}
