package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schedcore/scheduling-service/internal/config"
	"schedcore/scheduling-service/internal/httpapi"
	"schedcore/scheduling-service/internal/notify"
	"schedcore/scheduling-service/internal/settingscache"
	"schedcore/scheduling-service/internal/store/postgres"
	"schedcore/scheduling-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("scheduling-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		LockTimeout: cfg.LockTimeout,
	})
	settings := settingscache.New(cfg.SettingsCacheTTL)
	handler := httpapi.NewHandler(store, settings)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		AccountPerMinute: cfg.AccountRateLimitPerMinute,
		AccountBurst:     cfg.AccountRateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(limiter.Middleware(httpapi.LoggingMiddleware(handler.Routes())), "scheduling-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("scheduling-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	go func() {
		if cfg.GraceSweepInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.GraceSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
			count, err := store.SweepGraceExpired(ctx, cfg.GraceSweepBatch)
			cancel()
			if err != nil {
				log.Printf("grace sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("grace sweep processed %d tickets", count)
			}
		}
	}()

	go func() {
		if cfg.LateReleaseInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.LateReleaseInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
			count, err := store.SweepLateRelease(ctx, cfg.LateReleaseBatch)
			cancel()
			if err != nil {
				log.Printf("late release sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("late release sweep cancelled %d reservations", count)
			}
		}
	}()

	if cfg.AMQPURL != "" {
		publisher, err := notify.NewPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("amqp connect: %v", err)
		}
		defer publisher.Close()
		relay := notify.NewRelay(store, publisher, cfg.RelayInterval, cfg.RelayBatch)
		go relay.Run(rootCtx)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
