package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/checks-optimizer/pkg/secrets"
	"github.com/Checker-Finance/checks-optimizer/pkg/utils"
)

// APIKeyField is the JSON field read from the listing-source secret.
const APIKeyField = "api_key"

// ErrMissingAPIKey is returned when the secret exists but has no api_key entry.
var ErrMissingAPIKey = errors.New("secret has no api_key")

// KeyResolver resolves the listing-source API key, preferring a static value
// and falling back to AWS Secrets Manager with a local TTL cache.
type KeyResolver struct {
	logger     *zap.Logger
	provider   pkgsecrets.Provider
	cache      *pkgsecrets.Cache[string]
	staticKey  string
	secretName string
}

// NewKeyResolver builds a resolver. provider may be nil when staticKey is set.
func NewKeyResolver(
	logger *zap.Logger,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[string],
	staticKey string,
	secretName string,
) *KeyResolver {
	return &KeyResolver{
		logger:     logger,
		provider:   provider,
		cache:      cache,
		staticKey:  staticKey,
		secretName: secretName,
	}
}

// APIKey returns the key, hitting Secrets Manager only on a cache miss.
func (r *KeyResolver) APIKey(ctx context.Context) (string, error) {
	if r.staticKey != "" {
		return r.staticKey, nil
	}
	if r.provider == nil || r.secretName == "" {
		return "", fmt.Errorf("resolve api key: no static key and no secret configured")
	}

	key := strings.ToLower(r.secretName)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	secretMap, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", r.secretName),
			zap.Error(err))
		return "", fmt.Errorf("resolve api key from %q: %w", r.secretName, err)
	}

	apiKey := strings.TrimSpace(secretMap[APIKeyField])
	if apiKey == "" {
		return "", fmt.Errorf("secret %q: %w", r.secretName, ErrMissingAPIKey)
	}

	r.cache.Put(key, apiKey)
	r.logger.Info("aws.api_key_resolved",
		zap.String("secret", r.secretName),
		zap.String("api_key", utils.MaskSecret(apiKey)))
	return apiKey, nil
}

// Invalidate drops the cached key so the next call re-reads the secret.
func (r *KeyResolver) Invalidate() {
	if r.secretName != "" {
		r.cache.Bust(strings.ToLower(r.secretName))
	}
}
