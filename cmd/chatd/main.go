package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/cache"
	"github.com/roomchat/backend/internal/chat"
	"github.com/roomchat/backend/internal/config"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/presence"
	"github.com/roomchat/backend/internal/ratelimit"
	"github.com/roomchat/backend/internal/reaction"
	"github.com/roomchat/backend/internal/receipt"
	"github.com/roomchat/backend/internal/storage"
	"github.com/roomchat/backend/internal/thread"
)

func main() {
	log.Println("Starting roomchat state-sync engine...")

	cfg := config.Load()

	// Durable store.
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Ephemeral store.
	rdb := redis.NewClient(cfg.RedisOptions())
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to redis: %v", err)
	}
	cancel()

	// Broadcast gateway.
	natsConfig := broadcast.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.ClientName
	gateway, err := broadcast.NewNATSGateway(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Services.
	rooms := storage.NewPostgresRoomStore(db)
	messages := storage.NewPostgresMessageStore(db)
	c := cache.New(rdb)
	locks := keylock.New()
	tracker := presence.NewTracker(rdb, c, gateway)
	limiter := ratelimit.NewLimiter(rdb)
	chatSvc := chat.NewService(rooms, messages, c, tracker, limiter, gateway, locks)
	receiptSvc := receipt.NewService(messages, rdb, gateway, locks)
	reactionSvc := reaction.NewService(messages, rdb, gateway, locks)
	threadSvc := thread.NewService(messages, gateway, locks)

	h := &handlers{
		chat:     chatSvc,
		presence: tracker,
		receipts: receiptSvc,
		reacts:   reactionSvc,
		threads:  threadSvc,
		gateway:  gateway,
	}
	if err := h.register(gateway); err != nil {
		log.Fatalf("failed to subscribe to action subjects: %v", err)
	}

	// Metrics endpoint.
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		log.Printf("[metrics] listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()

	log.Printf("roomchat engine running")
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  metrics_addr: %s", cfg.MetricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[metrics] shutdown: %v", err)
	}

	gateway.Close()
	if err := rdb.Close(); err != nil {
		log.Printf("redis close: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("postgres close: %v", err)
	}
}
