package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

// SubscriptionService creates subscriptions through the builder and drives
// the lifecycle transitions. Every transition calls the remote side first
// and writes the local row from the remote response; a remote failure leaves
// the local row untouched.
type SubscriptionService struct {
	resolver       *account.Resolver
	providers      ProviderSource
	customers      *CustomerService
	paymentMethods *PaymentMethodService
	store          domain.SubscriptionStore
	failures       *PaymentFailureHandler

	currency string
	policy   billing.Policy

	log     zerolog.Logger
	metrics *telemetry.Metrics
}

func NewSubscriptionService(
	resolver *account.Resolver,
	providers ProviderSource,
	customers *CustomerService,
	paymentMethods *PaymentMethodService,
	store domain.SubscriptionStore,
	currency string,
	policy billing.Policy,
	log zerolog.Logger,
	metrics *telemetry.Metrics,
) *SubscriptionService {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &SubscriptionService{
		resolver:       resolver,
		providers:      providers,
		customers:      customers,
		paymentMethods: paymentMethods,
		store:          store,
		failures:       NewPaymentFailureHandler(log, metrics),
		currency:       currency,
		policy:         policy,
		log:            log,
		metrics:        metrics,
	}
}

// Get returns the local subscription row by id.
func (s *SubscriptionService) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// Find returns the local subscription row the owner identified as
// identifiedBy at creation time.
func (s *SubscriptionService) Find(ctx context.Context, owner domain.IntegrationOwner, identifiedBy string) (*domain.Subscription, error) {
	const op = "service.SubscriptionService.Find"

	if owner == nil || owner.OwnerRef().IsZero() {
		return nil, validationError(op, "an owner entity is required")
	}
	return s.store.GetSubscriptionByIdentifier(ctx, owner.OwnerRef(), identifiedBy)
}

// List returns every subscription row for the owner.
func (s *SubscriptionService) List(ctx context.Context, owner domain.IntegrationOwner) ([]domain.Subscription, error) {
	const op = "service.SubscriptionService.List"

	if owner == nil || owner.OwnerRef().IsZero() {
		return nil, validationError(op, "an owner entity is required")
	}
	return s.store.ListSubscriptionsByOwner(ctx, owner.OwnerRef())
}

// Cancel schedules the cancellation for the end of the current period. The
// subscription stays usable on its grace period until then. A subscription
// still on trial keeps only the remainder of the trial.
func (s *SubscriptionService) Cancel(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	provider, err := s.providers.ProviderFor(ctx, sub.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	atPeriodEnd := true
	remote, err := provider.UpdateSubscription(ctx, sub.SubscriptionID, billing.UpdateSubscriptionParams{
		CancelAtPeriodEnd: &atPeriodEnd,
	})
	if err != nil {
		return nil, err
	}

	var endsAt time.Time
	if sub.OnTrial() {
		endsAt = *sub.TrialEndsAt
	} else {
		endsAt = remote.CurrentPeriodEnd
	}

	s.applyRemote(sub, remote)
	sub.EndsAt = &endsAt
	sub.WillBeCanceled = true

	updated, err := s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.SubscriptionsCanceled.WithLabelValues(integrationLabel(sub.ServiceIntegrationID), "period_end").Inc()
	s.log.Info().
		Str("subscription_id", sub.SubscriptionID).
		Time("ends_at", endsAt).
		Msg("subscription cancellation scheduled for period end")
	return updated, nil
}

// CancelAtDate schedules the cancellation for a fixed date.
func (s *SubscriptionService) CancelAtDate(ctx context.Context, sub *domain.Subscription, date time.Time) (*domain.Subscription, error) {
	const op = "service.SubscriptionService.CancelAtDate"

	if !date.After(time.Now()) {
		return nil, validationError(op, "the cancellation date must be in the future")
	}
	provider, err := s.providers.ProviderFor(ctx, sub.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	remote, err := provider.UpdateSubscription(ctx, sub.SubscriptionID, billing.UpdateSubscriptionParams{
		CancelAt:          &date,
		ProrationBehavior: s.policy.ProrationBehavior,
	})
	if err != nil {
		return nil, err
	}

	s.applyRemote(sub, remote)
	sub.EndsAt = &date
	sub.WillBeCanceled = true

	updated, err := s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.SubscriptionsCanceled.WithLabelValues(integrationLabel(sub.ServiceIntegrationID), "timed").Inc()
	return updated, nil
}

// CancelNow cancels the subscription immediately, without a grace period.
func (s *SubscriptionService) CancelNow(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	return s.cancelNow(ctx, sub, false)
}

// CancelNowAndInvoice cancels immediately and generates the final invoice,
// crediting unused time.
func (s *SubscriptionService) CancelNowAndInvoice(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	return s.cancelNow(ctx, sub, true)
}

func (s *SubscriptionService) cancelNow(ctx context.Context, sub *domain.Subscription, invoiceNow bool) (*domain.Subscription, error) {
	provider, err := s.providers.ProviderFor(ctx, sub.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	remote, err := provider.CancelSubscription(ctx, sub.SubscriptionID, billing.CancelSubscriptionParams{
		Prorate:    invoiceNow,
		InvoiceNow: invoiceNow,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.applyRemote(sub, remote)
	sub.EndsAt = &now
	sub.WillBeCanceled = false

	updated, err := s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.SubscriptionsCanceled.WithLabelValues(integrationLabel(sub.ServiceIntegrationID), "immediate").Inc()
	s.log.Info().
		Str("subscription_id", sub.SubscriptionID).
		Bool("invoice_now", invoiceNow).
		Msg("subscription canceled immediately")
	return updated, nil
}

// Resume lifts a scheduled cancellation. The subscription must still be on
// its grace period; once the grace period is over the subscription is gone
// remotely and a new one has to be created. The precondition is checked
// before any remote call.
func (s *SubscriptionService) Resume(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	const op = "service.SubscriptionService.Resume"

	if !sub.OnGracePeriod() {
		return nil, domain.WrapError(ErrNotOnGracePeriod, domain.EINVALID, op,
			"only subscriptions on their grace period can be resumed")
	}

	provider, err := s.providers.ProviderFor(ctx, sub.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	atPeriodEnd := false
	params := billing.UpdateSubscriptionParams{
		CancelAtPeriodEnd: &atPeriodEnd,
	}
	// Re-anchor the trial so resuming mid-trial does not bill early.
	if sub.OnTrial() {
		params.TrialEndsAt = sub.TrialEndsAt
	} else {
		params.TrialNow = true
	}

	remote, err := provider.UpdateSubscription(ctx, sub.SubscriptionID, params)
	if err != nil {
		return nil, err
	}

	s.applyRemote(sub, remote)
	sub.EndsAt = nil
	sub.WillBeCanceled = false

	updated, err := s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.SubscriptionsResumed.WithLabelValues(integrationLabel(sub.ServiceIntegrationID)).Inc()
	s.log.Info().
		Str("subscription_id", sub.SubscriptionID).
		Msg("subscription resumed")
	return updated, nil
}

// SyncStatus refreshes the local row from the remote subscription without
// mutating the remote side.
func (s *SubscriptionService) SyncStatus(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	provider, err := s.providers.ProviderFor(ctx, sub.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	remote, err := provider.GetSubscription(ctx, sub.SubscriptionID)
	if err != nil {
		return nil, err
	}

	s.applyRemote(sub, remote)
	if remote.CanceledAt != nil && !remote.CancelAtPeriodEnd && sub.EndsAt == nil {
		sub.EndsAt = remote.CanceledAt
	}
	return s.store.UpdateSubscription(ctx, sub)
}

// MarkCanceled stamps the local row canceled as of now without calling the
// remote side. Used when the remote subscription is already gone, for
// example after an incomplete_expired webhook.
func (s *SubscriptionService) MarkCanceled(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	now := time.Now()
	sub.Status = domain.SubscriptionStatusCanceled
	sub.EndsAt = &now
	sub.WillBeCanceled = false
	return s.store.UpdateSubscription(ctx, sub)
}

// applyRemote copies the remote response's authoritative columns onto the
// local row. EndsAt is left to the caller, it encodes the local grace
// period decision.
func (s *SubscriptionService) applyRemote(sub *domain.Subscription, remote *billing.Subscription) {
	sub.Status = domain.SubscriptionStatus(remote.Status)
	sub.TrialEndsAt = remote.TrialEndsAt
	if !remote.CurrentPeriodStart.IsZero() {
		start := remote.CurrentPeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
}
