package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

// ChargeService runs one-off payment intents against the entity's customer.
// Automatic payment method selection and explicit method lists are mutually
// exclusive modes: setting one clears the other from the payload.
type ChargeService struct {
	resolver  *account.Resolver
	providers ProviderSource
	customers *CustomerService

	// currency applied when a charge does not specify one.
	currency string

	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// NewChargeService creates the charge service. currency is the default
// applied to intents created without one.
func NewChargeService(resolver *account.Resolver, providers ProviderSource, customers *CustomerService, currency string, log zerolog.Logger, metrics *telemetry.Metrics) *ChargeService {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &ChargeService{
		resolver:  resolver,
		providers: providers,
		customers: customers,
		currency:  currency,
		log:       log,
		metrics:   metrics,
	}
}

// CreatePaymentIntent creates an intent for the entity's customer. The
// default currency is applied when params carries none; the customer id is
// always injected from the mirror.
func (s *ChargeService) CreatePaymentIntent(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, amountCents int64, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
	si, err := s.resolver.ResolveActive(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.customers.GetID(ctx, entity, si.ID)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}

	params.AmountCents = amountCents
	params.CustomerID = customerID
	if params.Currency == "" {
		params.Currency = s.currency
	}
	params.Metadata = withIntegrationMeta(params.Metadata, si)

	s.metrics.PaymentAttempts.WithLabelValues(integrationLabel(si.ID), "one_time").Inc()

	done := observeLatency(s.metrics, si.ID, "create_payment_intent")
	intent, err := provider.CreatePaymentIntent(ctx, params)
	done()
	if err != nil {
		s.metrics.PaymentFailed.WithLabelValues(integrationLabel(si.ID), "one_time", failureReason(err)).Inc()
		return nil, err
	}
	if intent.Status == billing.PaymentIntentStatusSucceeded {
		s.metrics.PaymentSucceeded.WithLabelValues(integrationLabel(si.ID), "one_time").Inc()
	}
	s.log.Debug().
		Int64("integration_id", si.ID).
		Str("payment_intent_id", intent.ID).
		Str("status", intent.Status).
		Int64("amount_cents", intent.AmountCents).
		Msg("payment intent created")
	return intent, nil
}

// PayAutomatic creates an intent with automatic payment method selection.
// Any explicit method list in params is dropped: the two modes never appear
// in the same payload.
func (s *ChargeService) PayAutomatic(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, amountCents int64, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
	params.AutomaticPaymentMethods = true
	params.PaymentMethodTypes = nil
	return s.CreatePaymentIntent(ctx, entity, integrationID, amountCents, params)
}

// PayWith creates an intent restricted to the given payment method types.
// Automatic selection is dropped from the payload.
func (s *ChargeService) PayWith(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, amountCents int64, paymentMethodTypes []string, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
	const op = "service.ChargeService.PayWith"

	if len(paymentMethodTypes) == 0 {
		return nil, validationError(op, "at least one payment method type is required")
	}
	params.AutomaticPaymentMethods = false
	params.PaymentMethodTypes = paymentMethodTypes
	return s.CreatePaymentIntent(ctx, entity, integrationID, amountCents, params)
}

// MakeCharge attempts a synchronous charge: explicit payment method,
// automatic confirmation method, confirm immediately. Decline errors are not
// swallowed; they propagate to the caller.
func (s *ChargeService) MakeCharge(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, amountCents int64, paymentMethodID string, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
	const op = "service.ChargeService.MakeCharge"

	if paymentMethodID == "" {
		return nil, validationError(op, "a payment method id is required")
	}
	params.PaymentMethodID = paymentMethodID
	params.ConfirmationMethod = "automatic"
	params.Confirm = true
	return s.CreatePaymentIntent(ctx, entity, integrationID, amountCents, params)
}

// Refund refunds a payment, fully or partially.
func (s *ChargeService) Refund(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, params billing.RefundParams) (*billing.Refund, error) {
	si, err := s.resolver.ResolveActive(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}

	done := observeLatency(s.metrics, si.ID, "refund_payment")
	refund, err := provider.RefundPayment(ctx, params)
	done()
	if err != nil {
		return nil, err
	}

	reason := params.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}
	s.metrics.RefundsIssued.WithLabelValues(integrationLabel(si.ID), reason).Inc()
	s.metrics.RefundAmount.WithLabelValues(integrationLabel(si.ID)).Add(float64(refund.AmountCents))
	return refund, nil
}

// Find retrieves a payment intent by id.
func (s *ChargeService) Find(ctx context.Context, entity domain.IntegrationOwner, integrationID int64, paymentIntentID string) (*billing.PaymentIntent, error) {
	si, err := s.resolver.Resolve(ctx, entity, integrationID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}
	return provider.GetPaymentIntent(ctx, paymentIntentID)
}

// failureReason maps a provider error to a low-cardinality metric label.
func failureReason(err error) string {
	var sErr *billing.StripeError
	if errors.As(err, &sErr) {
		if sErr.IsDeclined() {
			return "declined"
		}
		if sErr.Code != "" {
			return sErr.Code
		}
	}
	return "error"
}
