package billing

import (
	"context"
	"sync"
	"time"

	"github.com/blackspot/multistripe/domain"
)

// Registry hands out billing providers per service integration, with
// in-memory caching so repeated resolutions of the same account do not
// rebuild clients or re-decrypt payloads.
//
// Registry responsibilities:
//   - Load integrations from the store
//   - Enforce the active flag
//   - Build provider instances via the factory
//   - Cache instances with a TTL
//   - Invalidate when credentials change
type Registry struct {
	store    domain.IntegrationStore
	factory  *Factory
	cacheTTL time.Duration

	// cache stores cacheEntry values keyed by integration id.
	cache sync.Map
}

type cacheEntry struct {
	provider  Provider
	expiresAt time.Time
}

// DefaultCacheTTL is applied when NewRegistry receives a non-positive TTL.
const DefaultCacheTTL = time.Hour

// NewRegistry creates a provider registry backed by the given store and
// factory. If cacheTTL is zero or negative it defaults to DefaultCacheTTL.
func NewRegistry(store domain.IntegrationStore, factory *Factory, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Registry{
		store:    store,
		factory:  factory,
		cacheTTL: cacheTTL,
	}
}

// ProviderFor returns the billing provider for the integration, loading and
// caching it on first use. Inactive integrations return
// domain.ErrIntegrationDisabled: the active flag is never cached, so a
// deactivated integration is rejected even while its client is still in the
// cache.
func (r *Registry) ProviderFor(ctx context.Context, integrationID int64) (Provider, error) {
	const op = "billing.Registry.ProviderFor"

	if entry, ok := r.cache.Load(integrationID); ok {
		cached := entry.(cacheEntry)
		if time.Now().Before(cached.expiresAt) {
			integration, err := r.store.GetIntegration(ctx, integrationID)
			if err != nil {
				return nil, err
			}
			if !integration.Active {
				r.cache.Delete(integrationID)
				return nil, domain.WrapError(domain.ErrIntegrationDisabled, domain.EFORBIDDEN, op,
					"service integration is disabled")
			}
			return cached.provider, nil
		}
		r.cache.Delete(integrationID)
	}

	provider, err := r.load(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	r.cache.Store(integrationID, cacheEntry{
		provider:  provider,
		expiresAt: time.Now().Add(r.cacheTTL),
	})
	return provider, nil
}

// Invalidate removes the cached provider for one integration. Call after
// rotating or updating its credentials.
func (r *Registry) Invalidate(integrationID int64) {
	r.cache.Delete(integrationID)
}

// InvalidateAll clears every cached provider. Useful in tests and after
// encryption key rotation.
func (r *Registry) InvalidateAll() {
	r.cache.Range(func(key, _ any) bool {
		r.cache.Delete(key)
		return true
	})
}

func (r *Registry) load(ctx context.Context, integrationID int64) (Provider, error) {
	const op = "billing.Registry.load"

	integration, err := r.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !integration.Active {
		return nil, domain.WrapError(domain.ErrIntegrationDisabled, domain.EFORBIDDEN, op,
			"service integration is disabled")
	}
	return r.factory.ClientFor(integration)
}
