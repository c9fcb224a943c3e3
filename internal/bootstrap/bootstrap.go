// Package bootstrap builds the listing-source stack shared by the server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/catalog"
	"github.com/Checker-Finance/checks-optimizer/internal/httpclient"
	"github.com/Checker-Finance/checks-optimizer/internal/rate"
	"github.com/Checker-Finance/checks-optimizer/internal/reservoir"
	internalsecrets "github.com/Checker-Finance/checks-optimizer/internal/secrets"
	"github.com/Checker-Finance/checks-optimizer/pkg/config"
	"github.com/Checker-Finance/checks-optimizer/pkg/secrets"
)

const (
	rateLimitCooldown = 2 * time.Second
	httpTimeout       = 20 * time.Second
)

// KeyResolver builds the API key resolver. Secrets Manager is only contacted
// when no static key is configured.
func KeyResolver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*internalsecrets.KeyResolver, error) {
	var provider secrets.Provider
	if cfg.ReservoirAPIKey == "" {
		aws, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("aws secrets provider: %w", err)
		}
		provider = aws
	}
	return internalsecrets.NewKeyResolver(
		logger.Named("secrets"),
		provider,
		secrets.NewCache[string](cfg.SecretsCacheTTL),
		cfg.ReservoirAPIKey,
		cfg.ReservoirAPIKeySecret,
	), nil
}

// ListingSource wires rate limiting, retries and key resolution into a Reservoir client.
func ListingSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*reservoir.Client, error) {
	keys, err := KeyResolver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Cooldown:          rateLimitCooldown,
	})
	exec := httpclient.New(
		logger.Named("http"),
		rateMgr,
		&http.Client{Timeout: httpTimeout},
		cfg.RetryMax,
		cfg.RetryBackoffBase,
		"reservoir",
		reservoir.ErrorHandler,
	)

	return reservoir.NewClient(
		logger.Named("reservoir"),
		exec,
		cfg.ReservoirBaseURL,
		keys,
		cfg.ChecksContract,
		cfg.EditionsContract,
	), nil
}

// CatalogOptions maps configuration onto cache options.
func CatalogOptions(cfg *config.Config) catalog.Options {
	opts := catalog.DefaultOptions()
	opts.TTL = cfg.CacheTTL
	opts.StaleGrace = cfg.CacheStaleGrace
	opts.RefreshTimeout = cfg.RefreshTimeout
	opts.PageSize = cfg.PageSize
	opts.MaxItemsPerSequence = cfg.MaxItemsPerClass
	opts.Denominations = cfg.Denominations
	return opts
}
