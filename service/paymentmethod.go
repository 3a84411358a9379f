package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

// PaymentMethodService manages payment methods against the remote customer.
// All effects are remote; the only local state touched is the customer id
// already held by the mirror.
type PaymentMethodService struct {
	resolver  *account.Resolver
	providers ProviderSource
	customers *CustomerService
	log       zerolog.Logger
}

// NewPaymentMethodService creates the payment method service.
func NewPaymentMethodService(resolver *account.Resolver, providers ProviderSource, customers *CustomerService, log zerolog.Logger) *PaymentMethodService {
	return &PaymentMethodService{
		resolver:  resolver,
		providers: providers,
		customers: customers,
		log:       log,
	}
}

// CreateSetupIntent starts collecting a payment method for the entity's
// customer. Defaults to card methods with off-session usage.
func (s *PaymentMethodService) CreateSetupIntent(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, params billing.CreateSetupIntentParams) (*billing.SetupIntent, error) {
	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}

	params.CustomerID = customerID
	return provider.CreateSetupIntent(ctx, params)
}

// List returns the customer's card payment methods. An entity whose customer
// has none, or whose credentials tolerate absence, gets an empty slice, never
// nil.
func (s *PaymentMethodService) List(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) ([]*billing.PaymentMethod, error) {
	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return []*billing.PaymentMethod{}, nil
		}
		return nil, err
	}
	return provider.ListPaymentMethods(ctx, customerID)
}

// Attach attaches the payment method to the entity's customer.
func (s *PaymentMethodService) Attach(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, paymentMethodID string) (*billing.PaymentMethod, error) {
	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	return provider.AttachPaymentMethod(ctx, paymentMethodID, customerID)
}

// Detach detaches the payment method from its customer.
func (s *PaymentMethodService) Detach(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, paymentMethodID string) error {
	provider, _, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return err
	}
	return provider.DetachPaymentMethod(ctx, paymentMethodID)
}

// GetOrAttach attaches the payment method only when the customer does not
// already hold it: the current list is searched by id first, so calling it
// twice attaches remotely at most once.
func (s *PaymentMethodService) GetOrAttach(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, paymentMethodID string) (*billing.PaymentMethod, error) {
	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}

	methods, err := provider.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, pm := range methods {
		if pm.ID == paymentMethodID {
			return pm, nil
		}
	}
	return provider.AttachPaymentMethod(ctx, paymentMethodID, customerID)
}

// SetDefault attaches the payment method if needed, then makes it the
// customer's invoice default.
func (s *PaymentMethodService) SetDefault(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, paymentMethodID string) (*billing.PaymentMethod, error) {
	pm, err := s.GetOrAttach(ctx, entity, integrationID, paymentMethodID)
	if err != nil {
		return nil, err
	}

	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	if _, err := provider.SetDefaultPaymentMethod(ctx, customerID, pm.ID); err != nil {
		return nil, err
	}
	return pm, nil
}

// GetDefault returns the customer's default payment method: the invoice
// settings default first, the legacy default source as a fallback, nil when
// neither is set.
func (s *PaymentMethodService) GetDefault(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) (*billing.PaymentMethod, error) {
	provider, customerID, err := s.target(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	return provider.GetDefaultPaymentMethod(ctx, customerID)
}

// target resolves the provider and remote customer id for the entity.
func (s *PaymentMethodService) target(ctx context.Context, entity domain.IntegrationOwner, integrationID int64) (billing.Provider, string, error) {
	si, err := s.resolver.ResolveActive(ctx, entity, integrationID)
	if err != nil {
		return nil, "", err
	}

	customerID, err := s.customers.GetID(ctx, entity, si.ID)
	if err != nil {
		return nil, "", err
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, "", err
	}
	return provider, customerID, nil
}
