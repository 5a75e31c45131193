package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/accounting"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/cache"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/keypool"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/modelsync"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/quota"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/store"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *store.Store
	Auth          *auth.Service
	Tokens        *auth.TokenManager
	Factory       *providers.Factory
	KeyPool       *keypool.Pool
	Router        *router.Router
	Quota         *quota.Checker
	Accountant    *accounting.Accountant
	Executor      *executor.Executor
	Sync          *modelsync.Service
	RateLimiter   *limits.RateLimiter
	ResponseCache *cache.ResponseCache
	Observability *observability.Provider
	Logger        *slog.Logger

	DefaultLimit      limits.LimitConfig
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, obs *observability.Provider, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	st := store.New(pool)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, "modelrelay")
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	factory := providers.NewFactory(providers.BuildOptions{
		ConnectTimeout:   cfg.Server.ProviderTimeout,
		DefaultMaxTokens: cfg.Providers.BedrockDefaultMaxTokens,
	})

	keys := keypool.New(st, logger)
	rtr := router.New(st, keys, logger)
	checker := quota.New(st, tierLimits(cfg.Quotas), reportingLoc)
	accountant := accounting.New(st, keys, reportingLoc, logger)

	exec := executor.New(executor.Options{
		Router:      rtr,
		Factory:     factory,
		Quota:       checker,
		Accountant:  accountant,
		Pool:        keys,
		Presets:     st,
		Metrics:     obs,
		Logger:      logger,
		IdleTimeout: cfg.Server.StreamIdleTimeout,
	})

	syncer := modelsync.New(st, factory, keys, logger)

	c := &Container{
		Config:        cfg,
		DBPool:        pool,
		Redis:         redisClient,
		Store:         st,
		Auth:          auth.NewService(st, logger),
		Tokens:        tokens,
		Factory:       factory,
		KeyPool:       keys,
		Router:        rtr,
		Quota:         checker,
		Accountant:    accountant,
		Executor:      exec,
		Sync:          syncer,
		Observability: obs,
		Logger:        logger,
		DefaultLimit: limits.LimitConfig{
			RequestsPerMinute: cfg.RateLimits.DefaultRequestsPerMinute,
			ParallelRequests:  cfg.RateLimits.DefaultParallelRequests,
		},
		ReportingLocation: reportingLoc,
	}

	if redisClient != nil {
		c.RateLimiter = limits.NewRateLimiter(redisClient)
		c.ResponseCache = cache.NewResponseCache(redisClient, 30*time.Minute)
	}

	return c, nil
}

// tierLimits converts the config's float USD ceilings into the quota
// checker's decimal form.
func tierLimits(tiers map[string]config.TierConfig) map[string]quota.TierLimits {
	out := make(map[string]quota.TierLimits, len(tiers))
	for name, t := range tiers {
		out[name] = quota.TierLimits{
			DailyTokens:   t.DailyTokens,
			MonthlyTokens: t.MonthlyTokens,
			DailyCost:     decimal.NewFromFloat(t.DailyCostUSD),
			MonthlyCost:   decimal.NewFromFloat(t.MonthlyCostUSD),
		}
	}
	return out
}
