// Package main is the entrypoint for the Switchboard Relay.
//
// The relay lets admins register upstream services and lets approved
// users call them through /u/{serviceId} with per-service API keys,
// subject to a per-user request quota.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/api"
	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/config"
	"github.com/saidutt46/switchboard-relay/internal/cors"
	"github.com/saidutt46/switchboard-relay/internal/events"
	"github.com/saidutt46/switchboard-relay/internal/gateway"
	"github.com/saidutt46/switchboard-relay/internal/health"
	"github.com/saidutt46/switchboard-relay/internal/logging"
	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/quota"
	"github.com/saidutt46/switchboard-relay/internal/ratelimit"
	"github.com/saidutt46/switchboard-relay/internal/repository"
	"github.com/saidutt46/switchboard-relay/internal/store"
)

// Version information (set during build via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application failed to start")
	}
}

func run() error {
	// .env is optional; production uses real environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	} else {
		log.Debug().Msg("Loaded configuration from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("environment", cfg.Environment).
		Msg("Switchboard Relay starting...")

	objects, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	defer func() {
		if err := objects.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing object store")
		}
	}()

	repos := repository.New(objects, repository.Options{LogRetention: cfg.LogRetention})

	if cfg.KafkaEnabled() {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaConfig())
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing kafka publisher")
			}
		}()
		repos.Logs.AddSink(publisher)
	}

	guard := auth.NewGuard(repos, auth.Config{
		AdminToken: cfg.AdminToken,
		SessionTTL: cfg.SessionTTL,
	})

	mode, err := quota.ParseMode(cfg.QuotaMode)
	if err != nil {
		return err
	}
	tracker := quota.NewTracker(repos.Usage, mode, nil)
	if mode == quota.ModeStrict && cfg.Store.Backend == store.BackendMemory {
		log.Warn().
			Str("component", "quota").
			Msg("Strict quota on the memory store is atomic within this process only; run a single instance")
	}

	policy := cors.New(cfg.CORSConfig())

	dispatcher := proxy.NewDispatcher(repos, guard, tracker, proxy.Config{
		Client:        proxy.NewClient(cfg.TransportConfig()),
		LegacyRoutes:  cfg.LegacyRoutes,
		CORS:          policy,
		MaxReplayBody: cfg.MaxReplayBody,
	})

	limiter, err := authLimiter(cfg, objects)
	if err != nil {
		return fmt.Errorf("failed to create auth rate limiter: %w", err)
	}

	control := api.NewHandler(repos, guard, api.Options{
		LegacyRoutes: cfg.LegacyRoutes,
		AuthLimiter:  limiter,
	})
	checks := health.NewHandler(objects, cfg.Store.Backend, Version)

	gw, err := gateway.New(repos, control, dispatcher, checks, gateway.Options{
		Version:        Version,
		CORS:           policy,
		RequestLog:     gateway.DefaultRequestLogConfig(),
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("failed to build http engine: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout must outlive the upstream deadline
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.ServerAddress()).
			Msg("HTTP server starting")

		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received, starting graceful shutdown...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error during graceful shutdown, forcing shutdown")
			if err := server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		log.Info().Msg("Server stopped gracefully")
	}

	return nil
}

// authLimiter shares the Redis connection when the store runs on Redis so
// every relay instance sees the same buckets.
func authLimiter(cfg *config.Config, objects store.Store) (ratelimit.Limiter, error) {
	rl, enabled := cfg.AuthRateLimitConfig()
	if !enabled {
		return nil, nil
	}

	if rs, ok := objects.(*store.RedisStore); ok {
		return ratelimit.NewRedisBucket(rs.Client(), rl)
	}
	return ratelimit.NewMemoryBucket(rl, nil)
}
