package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/appointment-lifecycle-engine/internal/api"
	"github.com/hackgods/appointment-lifecycle-engine/internal/appointment"
	"github.com/hackgods/appointment-lifecycle-engine/internal/config"
	"github.com/hackgods/appointment-lifecycle-engine/internal/db"
	"github.com/hackgods/appointment-lifecycle-engine/internal/events"
	redisclient "github.com/hackgods/appointment-lifecycle-engine/internal/redis"
	"github.com/hackgods/appointment-lifecycle-engine/internal/seeddata"
	"github.com/hackgods/appointment-lifecycle-engine/internal/telemetry"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	log.Printf("running in env=%s http_port=%s store=%s", cfg.Env, cfg.HTTPPort, cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("appointment-api", cfg.OTLPEndpoint)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("error flushing traces: %v", err)
		}
	}()

	var (
		pgPool  *pgxpool.Pool
		repo    appointment.Repository
		journal events.Journal
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := appointment.NewMemoryRepository()
		doctors, patients := seeddata.LoadMemory(mem, gofakeit.New(uint64(time.Now().UnixNano())), cfg.SeedDoctors, cfg.SeedPatients)
		log.Printf("using in-memory appointment store doctors=%d patients=%d", len(doctors), len(patients))
		if len(doctors) > 0 && len(patients) > 0 {
			if err := seeddata.LogSampleTokens(cfg.JWTSecret, doctors[0].ID, patients[0].ID); err != nil {
				log.Printf("sample tokens skipped: %v", err)
			}
		}
		repo = mem
	default:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns: cfg.PostgresMaxConns,
			MinConns: cfg.PostgresMinConns,
		})
		cancelPg()
		if err != nil {
			log.Fatalf("postgres connection error: %v", err)
		}
		defer pgPool.Close()
		log.Println("connected to Postgres")

		if cfg.AutoMigrate {
			if err := db.Migrate(rootCtx, pgPool); err != nil {
				log.Fatalf("migration error: %v", err)
			}
		}

		repo = appointment.NewPgRepository(pgPool)
		journal = events.NewPgJournal(pgPool)
	}

	// Redis is optional: without it slot locking is skipped and events go to the log.
	var (
		rdb    *redis.Client
		locker redisclient.Locker = redisclient.NoopLocker{}
		broker events.Broker      = events.LogBroker{}
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.Connect(rootCtx, redisclient.ClientConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("redis unavailable, continuing without slot locks: %v", err)
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					log.Printf("error closing redis: %v", err)
				}
			}()
			log.Println("connected to Redis")
			locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
			broker = redisclient.NewPubSubBroker(rdb)
		}
	}

	publisher := events.NewAsyncPublisher(broker, journal, events.PublisherConfig{
		Exchange: cfg.EventExchange,
		Buffer:   cfg.EventBuffer,
		Timeout:  cfg.EventPublishTimeout,
	})
	publisher.Start()

	svc := appointment.NewService(repo, locker, publisher, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Health:    api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		JWTSecret: cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "appointment-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Printf("event publisher did not drain: %v", err)
	}
}
