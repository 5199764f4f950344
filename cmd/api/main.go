package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rentsign/agreement"
	"rentsign/auth"
	"rentsign/booking"
	"rentsign/cache"
	"rentsign/config"
	"rentsign/db"
	"rentsign/document"
	"rentsign/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	if cfg.RedisAddr != "" && redisClient == nil {
		log.Printf("redis unreachable at %s, status cache disabled", cfg.RedisAddr)
	}
	statusCache := cache.NewStatusCache(redisClient, cache.DefaultTTL)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	bookingSvc := booking.NewService(booking.NewRepository(pool))
	agreementSvc := agreement.NewService(pool, nil, bookingSvc, document.NewPDFGenerator(), agreement.Policy{FirstSigner: cfg.FirstSigner})
	agreementSvc.SetGenerationTimeout(cfg.DocumentTimeout)

	server := NewServer(authSvc, agreementSvc, bookingSvc, statusCache, pool)
	e := server.router()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("api listening on :%s (env=%s, first_signer=%s)", cfg.Port, cfg.Env, cfg.FirstSigner)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.AMQPURL != "" {
		relay := notify.NewRelay(pool, cfg.AMQPURL, slog.New(slog.NewTextHandler(os.Stderr, nil)))
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("shutdown: %v", err)
	}
}
