package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

// ItemMapper lets callers adjust the remote item payload built for a
// product, after the builder has filled in price and metadata.
type ItemMapper func(product *domain.Product, item billing.SubscriptionItemParams) billing.SubscriptionItemParams

type builderItem struct {
	product  *domain.Product
	quantity int64
	metadata map[string]string
}

// SubscriptionBuilder accumulates subscription options before the create.
// It is keyed by an identifier unique per owner: when a subscription with
// that identifier already exists locally, Create returns the existing row
// and never calls the remote side.
type SubscriptionBuilder struct {
	svc           *SubscriptionService
	owner         domain.IntegrationOwner
	integrationID int64
	identifiedBy  string

	items       []builderItem
	metadata    map[string]string
	description string
	currency    string

	anchor        *time.Time
	trialDays     int
	trialEndsAt   *time.Time
	skipTrial     bool
	cancelAt      *time.Time
	keepUntil     *time.Time
	keepDays      int
	interval      string
	intervalCount int64
	mapper        ItemMapper

	err error
}

// Builder starts a subscription build for the owner, keyed by identifiedBy.
func (s *SubscriptionService) Builder(owner domain.IntegrationOwner, integrationID int64, identifiedBy string) *SubscriptionBuilder {
	return &SubscriptionBuilder{
		svc:           s,
		owner:         owner,
		integrationID: integrationID,
		identifiedBy:  identifiedBy,
		currency:      s.currency,
	}
}

func (b *SubscriptionBuilder) fail(format string, args ...any) *SubscriptionBuilder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// Product adds a product line with the given quantity.
func (b *SubscriptionBuilder) Product(p *domain.Product, quantity int64) *SubscriptionBuilder {
	return b.ProductWithMetadata(p, quantity, nil)
}

// ProductWithMetadata adds a product line carrying extra item metadata.
func (b *SubscriptionBuilder) ProductWithMetadata(p *domain.Product, quantity int64, metadata map[string]string) *SubscriptionBuilder {
	if p == nil {
		return b.fail("a nil product cannot be subscribed to")
	}
	if quantity < 1 {
		quantity = 1
	}
	b.items = append(b.items, builderItem{product: p, quantity: quantity, metadata: metadata})
	return b
}

// Metadata merges key/value pairs into the subscription metadata.
func (b *SubscriptionBuilder) Metadata(meta map[string]string) *SubscriptionBuilder {
	if b.metadata == nil {
		b.metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		b.metadata[k] = v
	}
	return b
}

// Description sets the subscription description.
func (b *SubscriptionBuilder) Description(description string) *SubscriptionBuilder {
	b.description = description
	return b
}

// Currency overrides the default currency.
func (b *SubscriptionBuilder) Currency(currency string) *SubscriptionBuilder {
	if currency == "" {
		return b.fail("the currency cannot be empty")
	}
	b.currency = currency
	return b
}

// Anchor fixes the billing cycle anchor. Past dates are rejected, except a
// date earlier today.
func (b *SubscriptionBuilder) Anchor(date time.Time) *SubscriptionBuilder {
	now := time.Now()
	if date.Before(now) && !sameDay(date, now) {
		return b.fail("the billing cycle anchor cannot be in the past")
	}
	b.anchor = &date
	return b
}

// TrialDays starts the subscription with a trial of the given length.
func (b *SubscriptionBuilder) TrialDays(days int) *SubscriptionBuilder {
	if days < 0 {
		return b.fail("the trial length cannot be negative")
	}
	b.trialDays = days
	return b
}

// TrialUntil starts the subscription on trial until the given date. The
// date only takes effect when it falls strictly after the billing cycle
// anchor; otherwise it is ignored.
func (b *SubscriptionBuilder) TrialUntil(date time.Time) *SubscriptionBuilder {
	b.trialEndsAt = &date
	return b
}

// SkipTrial ends any trial immediately so billing starts at once.
func (b *SubscriptionBuilder) SkipTrial() *SubscriptionBuilder {
	b.skipTrial = true
	return b
}

// CancelAt schedules the subscription's cancellation at creation time.
func (b *SubscriptionBuilder) CancelAt(date time.Time) *SubscriptionBuilder {
	if !date.After(time.Now()) {
		return b.fail("the cancellation date must be in the future")
	}
	b.cancelAt = &date
	return b
}

// KeepProductsActiveUntil keeps the subscribed products usable until the
// given date after the scheduled cancellation.
func (b *SubscriptionBuilder) KeepProductsActiveUntil(date time.Time) *SubscriptionBuilder {
	b.keepUntil = &date
	return b
}

// KeepProductsActiveFor keeps the subscribed products usable for the given
// number of days after the scheduled cancellation date.
func (b *SubscriptionBuilder) KeepProductsActiveFor(days int) *SubscriptionBuilder {
	if days < 0 {
		return b.fail("the keep-products-active window cannot be negative")
	}
	b.keepDays = days
	return b
}

// Interval sets the recurrence interval recorded on the subscription.
// Accepted intervals are day, week, month and year.
func (b *SubscriptionBuilder) Interval(interval string, count int64) *SubscriptionBuilder {
	switch interval {
	case "day", "week", "month", "year":
	default:
		return b.fail("invalid recurrence interval %q", interval)
	}
	if count < 1 {
		count = 1
	}
	b.interval = interval
	b.intervalCount = count
	return b
}

// MapItems installs a hook run over each remote item payload before the
// create call.
func (b *SubscriptionBuilder) MapItems(mapper ItemMapper) *SubscriptionBuilder {
	b.mapper = mapper
	return b
}

// Add creates the subscription charging the customer's stored default
// payment method.
func (b *SubscriptionBuilder) Add(ctx context.Context) (*domain.Subscription, error) {
	return b.Create(ctx, "")
}

// Create creates the subscription. When paymentMethodID is given it is
// attached and set as the customer's default first. The local row is
// persisted from the remote response; an incomplete first payment comes
// back as a *billing.IncompletePaymentError alongside the persisted row.
func (b *SubscriptionBuilder) Create(ctx context.Context, paymentMethodID string) (*domain.Subscription, error) {
	const op = "service.SubscriptionBuilder.Create"

	if b.err != nil {
		return nil, validationError(op, b.err.Error())
	}
	if b.identifiedBy == "" {
		return nil, validationError(op, "a subscription identifier is required")
	}
	if b.owner == nil || b.owner.OwnerRef().IsZero() {
		return nil, validationError(op, "an owner entity is required")
	}
	if len(b.items) == 0 {
		return nil, validationError(op, "at least one product is required")
	}

	s := b.svc
	owner := b.owner.OwnerRef()

	// Identifier idempotency: an existing row wins, no remote call.
	existing, err := s.store.GetSubscriptionByIdentifier(ctx, owner, b.identifiedBy)
	if err == nil {
		return existing, nil
	}
	if !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, err
	}

	si, err := s.resolver.ResolveActive(ctx, b.owner, b.integrationID)
	if err != nil {
		return nil, err
	}

	candidates, err := b.candidateItems(op, si.ID)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.GetOrCreate(ctx, b.owner, si.ID, billing.CreateCustomerParams{})
	if err != nil {
		return nil, err
	}
	if paymentMethodID != "" {
		if _, err := s.paymentMethods.SetDefault(ctx, b.owner, si.ID, paymentMethodID); err != nil {
			return nil, err
		}
	}

	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}

	params := b.remoteParams(si, customer.CustomerID, candidates)

	s.metrics.PaymentAttempts.WithLabelValues(integrationLabel(si.ID), "subscription").Inc()
	done := observeLatency(s.metrics, si.ID, "create_subscription")
	remote, err := provider.CreateSubscription(ctx, params)
	done()
	if err != nil {
		s.metrics.PaymentFailed.WithLabelValues(integrationLabel(si.ID), "subscription", failureReason(err)).Inc()
		return nil, err
	}

	row, err := b.persist(ctx, si.ID, remote)
	if err != nil {
		return nil, err
	}

	s.metrics.SubscriptionsCreated.WithLabelValues(integrationLabel(si.ID)).Inc()
	s.log.Info().
		Int64("integration_id", si.ID).
		Str("subscription_id", remote.ID).
		Str("identified_by", b.identifiedBy).
		Str("status", remote.Status).
		Msg("subscription created")

	// The remote subscription exists either way; an incomplete payment is
	// reported alongside the persisted row so the caller can recover.
	confirming := remote.PaymentIntent != nil &&
		remote.PaymentIntent.Status == billing.PaymentIntentStatusRequiresConfirmation
	handleErr := s.failures.Handle(ctx, provider, si.ID, remote.PaymentIntent, paymentMethodID)
	if confirming {
		// A server-side confirm moves the remote subscription forward; the
		// local row must reflect the post-confirm status.
		if synced, syncErr := s.SyncStatus(ctx, row); syncErr == nil {
			row = synced
		} else {
			s.log.Warn().Err(syncErr).
				Str("subscription_id", row.SubscriptionID).
				Msg("status refresh after confirmation failed")
		}
	}
	if handleErr != nil {
		return row, handleErr
	}
	return row, nil
}

// candidateItems filters the accumulated lines down to subscribable ones:
// recurring products with a default price, belonging to the resolved
// integration.
func (b *SubscriptionBuilder) candidateItems(op string, integrationID int64) ([]builderItem, error) {
	candidates := make([]builderItem, 0, len(b.items))
	for _, item := range b.items {
		if !item.product.AllowRecurring {
			continue
		}
		if item.product.DefaultPriceID == "" {
			return nil, validationError(op,
				fmt.Sprintf("product %q has no default price and cannot be subscribed to", item.product.Name))
		}
		if item.product.ServiceIntegrationID != integrationID {
			return nil, validationError(op,
				fmt.Sprintf("product %q belongs to a different service integration", item.product.Name))
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return nil, validationError(op, "no product allows recurring billing")
	}
	return candidates, nil
}

func (b *SubscriptionBuilder) remoteParams(si *domain.ServiceIntegration, customerID string, candidates []builderItem) billing.CreateSubscriptionParams {
	owner := b.owner.OwnerRef()

	meta := withIntegrationMeta(b.metadata, si)
	meta[metaOwnerID] = owner.ID
	meta[metaOwnerType] = owner.Kind
	if b.interval != "" {
		meta["recurring_interval"] = b.interval
		meta["recurring_interval_count"] = strconv.FormatInt(b.intervalCount, 10)
	}

	items := make([]billing.SubscriptionItemParams, 0, len(candidates))
	for _, c := range candidates {
		itemMeta := make(map[string]string, len(c.metadata)+4)
		for k, v := range c.metadata {
			itemMeta[k] = v
		}
		itemMeta[metaProductID] = strconv.FormatInt(c.product.ID, 10)
		itemMeta[metaProductType] = productModelType
		itemMeta[metaOwnerID] = owner.ID
		itemMeta[metaOwnerType] = owner.Kind

		item := billing.SubscriptionItemParams{
			PriceID:  c.product.DefaultPriceID,
			Quantity: c.quantity,
			Metadata: itemMeta,
		}
		if b.mapper != nil {
			item = b.mapper(c.product, item)
		}
		items = append(items, item)
	}

	params := billing.CreateSubscriptionParams{
		CustomerID:         customerID,
		Description:        b.description,
		Currency:           b.currency,
		Items:              items,
		Metadata:           meta,
		BillingCycleAnchor: b.anchor,
		CancelAt:           b.cancelAt,
		OffSession:         true,
		PaymentBehavior:    b.svc.policy.PaymentBehavior,
		ProrationBehavior:  b.svc.policy.ProrationBehavior,
	}

	switch {
	case b.skipTrial:
		params.TrialNow = true
	case b.trialEndsAt != nil:
		// An explicit trial date only applies past the anchor.
		anchor := time.Now()
		if b.anchor != nil {
			anchor = *b.anchor
		}
		if b.trialEndsAt.After(anchor) {
			params.TrialEndsAt = b.trialEndsAt
		}
	case b.trialDays > 0:
		end := time.Now().AddDate(0, 0, b.trialDays)
		params.TrialEndsAt = &end
	}
	return params
}

func (b *SubscriptionBuilder) persist(ctx context.Context, integrationID int64, remote *billing.Subscription) (*domain.Subscription, error) {
	s := b.svc
	owner := b.owner.OwnerRef()

	sub := &domain.Subscription{
		IdentifiedBy:         b.identifiedBy,
		Owner:                owner,
		CustomerID:           remote.CustomerID,
		SubscriptionID:       remote.ID,
		Status:               domain.SubscriptionStatus(remote.Status),
		TrialEndsAt:          remote.TrialEndsAt,
		Metadata:             b.metadata,
		ServiceIntegrationID: integrationID,
	}
	if !remote.CurrentPeriodStart.IsZero() {
		start := remote.CurrentPeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	if b.cancelAt != nil {
		sub.EndsAt = b.cancelAt
		sub.WillBeCanceled = true
		sub.KeepProductsActiveUntil = b.keepProductsActiveUntil()
	}

	row, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		if domain.IsCode(err, domain.ECONFLICT) {
			// A concurrent request created the row first; its remote
			// subscription wins and this one is left orphaned remotely.
			s.log.Warn().
				Str("identified_by", b.identifiedBy).
				Str("orphan_subscription_id", remote.ID).
				Msg("concurrent subscription creation, keeping existing row")
			return s.store.GetSubscriptionByIdentifier(ctx, owner, b.identifiedBy)
		}
		return nil, err
	}

	for _, remoteItem := range remote.Items {
		item := &domain.SubscriptionItem{
			SubscriptionID: row.ID,
			ItemID:         remoteItem.ID,
			PriceID:        remoteItem.PriceID,
			Quantity:       remoteItem.Quantity,
			ProductID:      localProductID(remoteItem.Metadata),
			Metadata:       remoteItem.Metadata,
		}
		saved, err := s.store.UpsertSubscriptionItem(ctx, item)
		if err != nil {
			return nil, err
		}
		row.Items = append(row.Items, *saved)
	}
	return row, nil
}

func (b *SubscriptionBuilder) keepProductsActiveUntil() *time.Time {
	if b.keepUntil != nil {
		return b.keepUntil
	}
	if b.keepDays > 0 && b.cancelAt != nil {
		until := b.cancelAt.AddDate(0, 0, b.keepDays)
		return &until
	}
	return nil
}

// localProductID reads the local product row id carried on the remote item
// metadata. 0 when the item was not built from a local product.
func localProductID(meta map[string]string) int64 {
	if meta[metaProductType] != productModelType {
		return 0
	}
	id, err := strconv.ParseInt(meta[metaProductID], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
