package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/driftline/compex/internal/cache"
	httpapi "github.com/driftline/compex/internal/interfaces/http"
	"github.com/driftline/compex/internal/metrics"
	"github.com/driftline/compex/internal/store"
)

// redisSettings configures the optional second cache tier.
type redisSettings struct {
	Addr     string        `envconfig:"ADDR"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	TTL      time.Duration `envconfig:"TTL" default:"15m"`
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the estimation API over HTTP",
		Long: "Starts the HTTP service with simulation, design-event, run-history, and\n" +
			"metrics endpoints. Configuration comes from the environment (COMPEX_HTTP_*,\n" +
			"COMPEX_DB_*, COMPEX_REDIS_*), optionally loaded from a .env file; flags\n" +
			"override the listen address.",
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Listen host (overrides COMPEX_HTTP_HOST)")
	cmd.Flags().Int("port", 0, "Listen port (overrides COMPEX_HTTP_PORT)")
	cmd.Flags().String("env-file", "", "Load environment from this file instead of .env")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	var httpCfg httpapi.Config
	if err := envconfig.Process("COMPEX_HTTP", &httpCfg); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		httpCfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		httpCfg.Port = port
	}

	var dbCfg store.Config
	if err := envconfig.Process("COMPEX_DB", &dbCfg); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	var rc redisSettings
	if err := envconfig.Process("COMPEX_REDIS", &rc); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	reg := metrics.New()

	var client *redis.Client
	if rc.Addr != "" {
		client = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", rc.Addr).
				Msg("Redis unreachable, cache runs memory-only until it recovers")
		} else {
			log.Info().Str("addr", rc.Addr).Msg("Redis cache tier connected")
		}
	}
	resultCache := cache.New(cache.Options{Redis: client, TTL: rc.TTL, Metrics: reg})

	var runs *store.RunRepo
	if dbCfg.Enabled {
		db, err := store.Open(dbCfg)
		if err != nil {
			return err
		}
		defer db.Close()
		runs = store.NewRunRepo(db, dbCfg.QueryTimeout)
		if err := runs.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("Run store ready")
	}

	srv := httpapi.NewServer(httpapi.Options{
		Config:  httpCfg,
		Metrics: reg,
		Cache:   resultCache,
		Runs:    runs,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", httpCfg.Addr()).
			Str("cache", resultCache.Tiers()).
			Bool("store", runs != nil).
			Msg("Design service listening")
		serverErr <- srv.Start()
	}()

	select {
	case <-cmd.Context().Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	timeout := httpCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("Server shutdown complete")
	return nil
}
