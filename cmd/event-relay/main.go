package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/appointment-lifecycle-engine/internal/config"
	"github.com/hackgods/appointment-lifecycle-engine/internal/db"
	"github.com/hackgods/appointment-lifecycle-engine/internal/events"
	redisclient "github.com/hackgods/appointment-lifecycle-engine/internal/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("event-relay starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatalf("event-relay needs the postgres journal, STORE_DRIVER=%s", cfg.StoreDriver)
	}

	log.Printf("running event relay in env=%s schedule=%q batch=%d min_age=%s",
		cfg.Env, cfg.RelaySchedule, cfg.RelayBatchSize, cfg.RelayMinAge)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, redisclient.ClientConfig{
		Addr:      cfg.RedisAddr,
		Username:  cfg.RedisUsername,
		Password:  cfg.RedisPassword,
		PoolSize:  2,
		OpTimeout: cfg.EventPublishTimeout,
	})
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	relay := events.NewRelay(
		events.NewPgJournal(pgPool),
		redisclient.NewPubSubBroker(rdb),
		cfg.EventExchange,
		cfg.RelayBatchSize,
		cfg.RelayMinAge,
	)

	// Run once at startup
	runOnce(rootCtx, relay)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.RelaySchedule, func() { runOnce(rootCtx, relay) }); err != nil {
		log.Fatalf("invalid RELAY_SCHEDULE %q: %v", cfg.RelaySchedule, err)
	}
	c.Start()

	<-rootCtx.Done()
	log.Println("shutdown signal received, stopping event relay")

	<-c.Stop().Done()
}

func runOnce(ctx context.Context, relay *events.Relay) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := relay.RunOnce(runCtx)
	if err != nil {
		log.Printf("relay run error: %v", err)
		return
	}
	log.Printf("relay run complete sent=%d in %s", sent, time.Since(start))
}
