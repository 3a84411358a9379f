package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

// CustomerService maintains the local customer mirror: one remote customer
// per (owner, integration), created lazily and never duplicated. The remote
// provider stays the source of truth for everything except the linkage row.
type CustomerService struct {
	resolver  *account.Resolver
	providers ProviderSource
	store     domain.CustomerStore
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewCustomerService creates the customer mirror service.
func NewCustomerService(resolver *account.Resolver, providers ProviderSource, store domain.CustomerStore, log zerolog.Logger, metrics *telemetry.Metrics) *CustomerService {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &CustomerService{
		resolver:  resolver,
		providers: providers,
		store:     store,
		log:       log,
		metrics:   metrics,
	}
}

// Exists reports whether a local mirror row exists for the entity. Local
// check only, no remote call.
func (s *CustomerService) Exists(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) (bool, error) {
	si, err := s.resolver.Resolve(ctx, entity, integrationID)
	if err != nil {
		return false, err
	}

	_, err = s.localRow(ctx, entity.OwnerRef(), si.ID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetOrCreate returns the mirror row for the entity, creating the remote
// customer first when none exists. The remote create must succeed before the
// local row is written, so no local-without-remote state can persist.
func (s *CustomerService) GetOrCreate(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, params billing.CreateCustomerParams) (*domain.Customer, error) {
	c, _, err := s.CreateIfNotExists(ctx, entity, integrationID, params)
	return c, err
}

// CreateIfNotExists is GetOrCreate reporting whether a remote customer was
// created by this call.
func (s *CustomerService) CreateIfNotExists(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, params billing.CreateCustomerParams) (*domain.Customer, bool, error) {
	const op = "service.CustomerService.CreateIfNotExists"

	si, err := s.resolver.ResolveActive(ctx, entity, integrationID)
	if err != nil {
		return nil, false, err
	}
	owner := entity.OwnerRef()

	if existing, err := s.localRow(ctx, owner, si.ID); err == nil {
		return existing, false, nil
	} else if !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, false, err
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, false, err
	}

	params.Metadata = withIntegrationMeta(params.Metadata, si)
	params.Metadata[metaOwnerID] = owner.ID
	params.Metadata[metaOwnerType] = owner.Kind

	done := observeLatency(s.metrics, si.ID, "create_customer")
	remote, err := provider.CreateCustomer(ctx, params)
	done()
	if err != nil {
		return nil, false, err
	}

	created, err := s.store.CreateCustomer(ctx, &domain.Customer{
		CustomerID:           remote.ID,
		ServiceIntegrationID: si.ID,
		Owner:                owner,
	})
	if err != nil {
		// A concurrent request won the unique constraint race; its row is
		// the canonical one.
		if domain.IsCode(err, domain.ECONFLICT) {
			s.log.Warn().Str("owner", owner.String()).Int64("integration_id", si.ID).
				Str("orphan_customer_id", remote.ID).
				Msg("concurrent customer creation, keeping existing row")
			existing, lookupErr := s.store.GetCustomerByOwner(ctx, owner, si.ID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			s.memo(ctx, owner, si.ID, existing, nil)
			return existing, false, nil
		}
		return nil, false, err
	}

	s.metrics.CustomersCreated.WithLabelValues(integrationLabel(si.ID)).Inc()
	s.log.Info().Str("owner", owner.String()).Int64("integration_id", si.ID).
		Str("customer_id", remote.ID).Msg("created remote customer")

	s.memo(ctx, owner, si.ID, created, remote)
	return created, true, nil
}

// Get returns the remote customer for the entity, memoized per request.
// Returns ErrCustomerNotCreated (wrapped) when no mirror row exists.
func (s *CustomerService) Get(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) (*billing.Customer, error) {
	const op = "service.CustomerService.Get"

	si, err := s.resolver.Resolve(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	owner := entity.OwnerRef()

	cache := account.CacheFrom(ctx)
	if remote, ok := cache.GetRemoteCustomer(owner, si.ID); ok {
		return remote, nil
	}

	row, err := s.localRow(ctx, owner, si.ID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, domain.WrapError(ErrCustomerNotCreated, domain.ENOTFOUND, op,
				"no customer has been created for this entity")
		}
		return nil, err
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}
	remote, err := provider.GetCustomer(ctx, row.CustomerID)
	if err != nil {
		return nil, err
	}

	cache.PutRemoteCustomer(owner, si.ID, remote)
	return remote, nil
}

// GetID returns the remote customer id from the local row, never forcing a
// remote fetch.
func (s *CustomerService) GetID(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) (string, error) {
	const op = "service.CustomerService.GetID"

	si, err := s.resolver.Resolve(ctx, entity, integrationID)
	if err != nil {
		return "", err
	}

	row, err := s.localRow(ctx, entity.OwnerRef(), si.ID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return "", domain.WrapError(ErrCustomerNotCreated, domain.ENOTFOUND, op,
				"no customer has been created for this entity")
		}
		return "", err
	}
	return row.CustomerID, nil
}

// Update pushes changed fields to the remote customer and refreshes the
// request memo. The local row is not rewritten: it only stores the linkage,
// which an update never changes.
func (s *CustomerService) Update(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, params billing.UpdateCustomerParams) (*billing.Customer, error) {
	const op = "service.CustomerService.Update"

	si, err := s.resolver.ResolveActive(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	owner := entity.OwnerRef()

	row, err := s.localRow(ctx, owner, si.ID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, domain.WrapError(ErrCustomerNotCreated, domain.ENOTFOUND, op,
				"no customer has been created for this entity")
		}
		return nil, err
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}
	remote, err := provider.UpdateCustomer(ctx, row.CustomerID, params)
	if err != nil {
		return nil, err
	}

	account.CacheFrom(ctx).PutRemoteCustomer(owner, si.ID, remote)
	return remote, nil
}

// DetachOwner nulls the owner reference on every mirror row for the owner.
// Call from the owning entity's deletion hook; the rows survive for audit.
func (s *CustomerService) DetachOwner(ctx context.Context, owner domain.OwnerRef) error {
	return s.store.DetachCustomerOwner(ctx, owner)
}

// localRow fetches the mirror row through the request memo.
func (s *CustomerService) localRow(ctx context.Context, owner domain.OwnerRef, integrationID int64) (*domain.Customer, error) {
	cache := account.CacheFrom(ctx)
	if row, ok := cache.GetCustomer(owner, integrationID); ok {
		return row, nil
	}

	row, err := s.store.GetCustomerByOwner(ctx, owner, integrationID)
	if err != nil {
		return nil, err
	}
	cache.PutCustomer(owner, integrationID, row)
	return row, nil
}

func (s *CustomerService) memo(ctx context.Context, owner domain.OwnerRef, integrationID int64, row *domain.Customer, remote *billing.Customer) {
	cache := account.CacheFrom(ctx)
	cache.PutCustomer(owner, integrationID, row)
	if remote != nil {
		cache.PutRemoteCustomer(owner, integrationID, remote)
	}
}
