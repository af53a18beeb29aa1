package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/kobo-export/pkg/cache"
	"github.com/Sternrassler/kobo-export/pkg/client"
	"github.com/Sternrassler/kobo-export/pkg/config"
	"github.com/Sternrassler/kobo-export/pkg/export"
	"github.com/Sternrassler/kobo-export/pkg/flatten"
	"github.com/Sternrassler/kobo-export/pkg/logging"
	"github.com/Sternrassler/kobo-export/pkg/metrics"
	"github.com/Sternrassler/kobo-export/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// cachePingTimeout bounds the startup check of the Redis cache.
const cachePingTimeout = 2 * time.Second

// options are the command line values of one run.
type options struct {
	configPath  string
	output      string
	token       string
	logLevel    string
	logJSON     bool
	metricsFile string

	// logOutput replaces stderr in tests.
	logOutput io.Writer
}

// runExport loads the configuration, fetches every page, flattens the
// records and writes the workbook.
func runExport(ctx context.Context, opts options) error {
	start := time.Now()
	setupLogging(opts, opts.logLevel)

	cfg, err := config.Load(opts.configPath,
		config.WithToken(opts.token),
		config.WithOutputFile(opts.output),
		config.WithLogLevel(opts.logLevel),
	)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(opts, cfg.LogLevel)

	if opts.metricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
				log.Warn().Err(err).Str("path", opts.metricsFile).Msg("Failed to write metrics file")
			}
		}()
	}

	pageCache, closeCache := openCache(ctx, cfg)
	defer closeCache()

	apiClient, err := client.New(client.Config{
		Token:     cfg.APIToken,
		UserAgent: client.DefaultUserAgent,
		Timeout:   cfg.RequestTimeout,
		Cache:     pageCache,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	fetcher := pagination.NewFetcher(apiClient, pagination.Config{
		Delay:    cfg.PageDelay,
		MaxPages: cfg.MaxPages,
		Timeout:  cfg.FetchTimeout,
	})

	log.Info().
		Str("url", cfg.AssetsURL()).
		Str("project_view", cfg.ProjectViewUID).
		Msg("Starting export")

	result := fetcher.FetchAll(ctx, cfg.AssetsURL())
	if len(result.Records) == 0 {
		if result.Err != nil {
			return fmt.Errorf("%w: %w", ErrNoRecords, result.Err)
		}
		return ErrNoRecords
	}
	if result.Partial() {
		log.Warn().
			Err(result.Err).
			Int("total", len(result.Records)).
			Msg("Exporting partial results")
	}

	rows := flatten.FlattenAll(result.Records)

	exporter := export.New(cfg.OutputFile)
	if err := exporter.Export(rows); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	log.Info().
		Int("records", len(rows)).
		Int("pages", result.Pages).
		Int("cached_pages", result.CachedPages).
		Bool("mixed_cache", result.Mixed()).
		Bool("partial", result.Partial()).
		Str("path", exporter.Path()).
		Dur("duration", time.Since(start)).
		Msg("Export complete")

	return nil
}

func setupLogging(opts options, level string) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(level),
		Pretty: !opts.logJSON,
		Output: opts.logOutput,
	})
}

// openCache connects to Redis when REDIS_ADDR is set. An unreachable Redis
// disables caching for the run instead of failing it.
func openCache(ctx context.Context, cfg *config.Config) (*cache.Manager, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	manager := cache.NewManager(redisClient, cfg.CacheTTL)

	pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()

	if err := manager.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Page cache unavailable, continuing without it")
		redisClient.Close()
		return nil, func() {}
	}

	log.Info().
		Str("addr", cfg.RedisAddr).
		Dur("ttl", manager.TTL()).
		Msg("Page cache enabled")

	return manager, func() { redisClient.Close() }
}
