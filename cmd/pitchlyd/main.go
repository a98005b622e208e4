// pitchlyd is the Pitchly subscription and proposal service. It reconciles
// Stripe webhook events into the subscription store and serves the quota-gated
// proposal API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pitchly/pitchly/pkg/billing"
	prommetrics "github.com/pitchly/pitchly/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/pitchly/pitchly/pkg/billing/stripe"
	"github.com/pitchly/pitchly/pkg/proposals"
	"github.com/pitchly/pitchly/pkg/subscription"
	zlog "github.com/pitchly/pitchly/pkg/subscription/logger/zerolog"
	"github.com/pitchly/pitchly/storage/memory"
	"github.com/pitchly/pitchly/storage/postgres"
	redisstore "github.com/pitchly/pitchly/storage/redis"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "pitchlyd").
		Logger()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	slog := zlog.NewLogger(logger)
	metrics := prommetrics.DefaultMetrics("pitchly")

	tierMapping := map[string]subscription.Tier{}
	if cfg.PriceProfessional != "" {
		tierMapping[cfg.PriceProfessional] = subscription.TierProfessional
	}
	if cfg.PriceAgency != "" {
		tierMapping[cfg.PriceAgency] = subscription.TierAgency
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:       store,
			TierMapping: tierMapping,
			Logger:      slog,
			Metrics:     metrics,
		},
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})
	if err != nil {
		return err
	}

	guard, err := subscription.NewGuard(store, subscription.WithGuardLogger(slog))
	if err != nil {
		return err
	}

	generator := proposals.NewOpenAIGenerator(proposals.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})
	service, err := proposals.NewService(guard, generator, proposals.WithServiceLogger(slog))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, logger, provider, guard, service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config) (subscription.Store, func(), error) {
	switch cfg.Storage {
	case "postgres":
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.PostgresDSN
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		store, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	default:
		return memory.New(), func() {}, nil
	}
}
