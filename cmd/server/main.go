package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"weld/internal/audit"
	"weld/internal/platform/config"
	"weld/internal/platform/httpserver"
	"weld/internal/platform/logger"
	platformredis "weld/internal/platform/redis"
	"weld/internal/reconcile/handler"
	"weld/internal/reconcile/locks"
	"weld/internal/reconcile/metrics"
	"weld/internal/reconcile/service"
	"weld/internal/reconcile/store"
	"weld/internal/reconcile/store/pgtx"
	httptransport "weld/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	m := metrics.New()

	checks := map[string]httptransport.HealthChecker{}

	var strategy service.TxStrategy
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return err
		}

		strategy = pgtx.NewSerializable(db, m, cfg.TxRetries, cfg.IdentifyTimeout)
		checks["postgres"] = httptransport.HealthFunc(db.PingContext)
	} else {
		log.Warn("DATABASE_URL not set, running with the in-memory store")
		strategy = service.NewKeyedTx(store.NewMemory())
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		strategy = locks.NewKeyed(redisClient.Client, strategy)
		checks["redis"] = redisClient
	}

	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafka(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafka.Close(closeCtx); err != nil {
				log.Warn("audit publisher close", "error", err.Error())
			}
		}()
		publisher = kafka
	}

	engine := service.New(strategy, log, m, publisher)
	router := httptransport.NewRouter(handler.New(engine, log), log, checks)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting weld", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
