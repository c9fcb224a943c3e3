package secrets

import "context"

// Provider reads JSON-map secrets from a secrets manager.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}
