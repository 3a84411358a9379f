package account

import (
	"context"
	"errors"

	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

// Resolver locates the service integration that applies to an owning entity.
// Resolution walks an ordered strategy chain, first match wins:
//
//  1. an explicit integration id passed by the caller
//  2. the entity itself is the ServiceIntegration
//  3. the entity carries an integration id (domain.HasIntegrationID)
//  4. the entity exposes a custom accessor (domain.StripeAccountHolder)
//  5. the entity belongs to an owner that owns the integration
//     (domain.IntegrationOwner)
//
// No match returns domain.ErrIntegrationNotFound. Results are memoized in
// the request cache carried on the context, never across requests.
type Resolver struct {
	store   domain.IntegrationStore
	metrics *telemetry.Metrics
}

// NewResolver creates an integration resolver backed by the given store.
func NewResolver(store domain.IntegrationStore) *Resolver {
	return &Resolver{store: store, metrics: telemetry.NewNoop()}
}

// WithMetrics attaches resolution counters. Returns the resolver for chaining.
func (r *Resolver) WithMetrics(m *telemetry.Metrics) *Resolver {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Resolve finds the integration for the entity. Pass integrationID 0 to let
// the entity-based strategies run; a non-zero id short-circuits them.
func (r *Resolver) Resolve(ctx context.Context, entity any, integrationID int64) (*domain.ServiceIntegration, error) {
	const op = "account.Resolver.Resolve"

	cache := CacheFrom(ctx)

	if integrationID != 0 {
		r.metrics.ResolutionAttempts.WithLabelValues("explicit").Inc()
		si, err := r.byID(ctx, cache, integrationID)
		if err != nil {
			r.countFailure(err)
		}
		return si, err
	}

	if si, ok := cache.getIntegration(entity); ok {
		if si == nil {
			return nil, domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
				"no service integration resolved for entity")
		}
		return si, nil
	}

	si, err := r.resolveEntity(ctx, cache, entity)
	if err != nil {
		r.countFailure(err)
		if domain.IsCode(err, domain.ENOTFOUND) {
			cache.putIntegration(entity, nil)
		}
		return nil, err
	}

	cache.putIntegration(entity, si)
	cache.putIntegrationByID(si)
	return si, nil
}

// ResolveActive is Resolve plus an active check: a resolved but disabled
// integration returns domain.ErrIntegrationDisabled.
func (r *Resolver) ResolveActive(ctx context.Context, entity any, integrationID int64) (*domain.ServiceIntegration, error) {
	const op = "account.Resolver.ResolveActive"

	si, err := r.Resolve(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	if !si.Active {
		r.metrics.ResolutionFailures.WithLabelValues("disabled").Inc()
		return nil, domain.WrapError(domain.ErrIntegrationDisabled, domain.EFORBIDDEN, op,
			"service integration is disabled")
	}
	return si, nil
}

func (r *Resolver) resolveEntity(ctx context.Context, cache *Cache, entity any) (*domain.ServiceIntegration, error) {
	const op = "account.Resolver.resolveEntity"

	// The entity is the integration itself.
	if si, ok := entity.(*domain.ServiceIntegration); ok {
		r.metrics.ResolutionAttempts.WithLabelValues("entity").Inc()
		if !si.IsStripe() {
			return nil, domain.WrapError(domain.ErrIntegrationProviderMismatch, domain.EINVALID, op,
				"entity is a non-Stripe service integration")
		}
		return si, nil
	}
	if si, ok := entity.(domain.ServiceIntegration); ok {
		return r.resolveEntity(ctx, cache, &si)
	}

	// The entity carries the integration id directly.
	if carrier, ok := entity.(domain.HasIntegrationID); ok {
		if id := carrier.ServiceIntegrationID(); id != 0 {
			r.metrics.ResolutionAttempts.WithLabelValues("property").Inc()
			return r.byID(ctx, cache, id)
		}
	}

	// The entity exposes a custom account accessor.
	if holder, ok := entity.(domain.StripeAccountHolder); ok {
		if id := holder.StripeAccountID(); id != 0 {
			r.metrics.ResolutionAttempts.WithLabelValues("accessor").Inc()
			return r.byID(ctx, cache, id)
		}
	}

	// The entity belongs to an owner that owns the integration.
	if owned, ok := entity.(domain.IntegrationOwner); ok {
		if ref := owned.OwnerRef(); !ref.IsZero() {
			r.metrics.ResolutionAttempts.WithLabelValues("owner").Inc()
			si, err := r.store.GetIntegrationByOwner(ctx, ref)
			if err != nil {
				return nil, err
			}
			return r.checkStripe(si)
		}
	}

	return nil, domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
		"no service integration resolved for entity")
}

func (r *Resolver) byID(ctx context.Context, cache *Cache, id int64) (*domain.ServiceIntegration, error) {
	if si, ok := cache.getIntegrationByID(id); ok {
		return si, nil
	}

	si, err := r.store.GetIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	if si, err = r.checkStripe(si); err != nil {
		return nil, err
	}

	cache.putIntegrationByID(si)
	return si, nil
}

func (r *Resolver) countFailure(err error) {
	switch {
	case errors.Is(err, domain.ErrIntegrationProviderMismatch):
		r.metrics.ResolutionFailures.WithLabelValues("provider_mismatch").Inc()
	case domain.IsCode(err, domain.ENOTFOUND):
		r.metrics.ResolutionFailures.WithLabelValues("not_found").Inc()
	default:
		r.metrics.ResolutionFailures.WithLabelValues("error").Inc()
	}
}

func (r *Resolver) checkStripe(si *domain.ServiceIntegration) (*domain.ServiceIntegration, error) {
	const op = "account.Resolver.checkStripe"

	if !si.IsStripe() {
		return nil, domain.WrapError(domain.ErrIntegrationProviderMismatch, domain.EINVALID, op,
			"resolved service integration belongs to another provider")
	}
	return si, nil
}
