package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

const maxProductImages = 8

// ProductService mirrors billing products for application entities. A
// product row is created locally first, then remotely; if the remote create
// fails the local row is removed so the two sides never diverge.
type ProductService struct {
	resolver  *account.Resolver
	providers ProviderSource
	store     domain.ProductStore
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

func NewProductService(resolver *account.Resolver, providers ProviderSource, store domain.ProductStore, log zerolog.Logger, metrics *telemetry.Metrics) *ProductService {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &ProductService{
		resolver:  resolver,
		providers: providers,
		store:     store,
		log:       log,
		metrics:   metrics,
	}
}

// Builder starts a product build for the given model entity. The model must
// resolve to an active stripe integration when Create is called.
func (s *ProductService) Builder(model domain.IntegrationOwner, integrationID int64, name string) *ProductBuilder {
	return &ProductBuilder{
		svc:           s,
		model:         model,
		integrationID: integrationID,
		name:          name,
		active:        true,
	}
}

// ProductBuilder accumulates product attributes before the two-phase create.
// Invalid values are recorded and reported when Create runs, so chained
// calls never need individual error handling.
type ProductBuilder struct {
	svc           *ProductService
	model         domain.IntegrationOwner
	integrationID int64

	name        string
	description string
	active      bool
	images      []string
	unitLabel   string
	url         string
	shippable   *bool
	dimensions  *billing.PackageDimensions
	price       *billing.DefaultPriceData
	metadata    map[string]string

	err error
}

func (b *ProductBuilder) fail(format string, args ...any) *ProductBuilder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// Active sets whether the product is purchasable.
func (b *ProductBuilder) Active(active bool) *ProductBuilder {
	b.active = active
	return b
}

// Description sets the product description.
func (b *ProductBuilder) Description(description string) *ProductBuilder {
	b.description = description
	return b
}

// Images sets the product image URLs. At most 8 are accepted.
func (b *ProductBuilder) Images(urls ...string) *ProductBuilder {
	if len(urls) > maxProductImages {
		return b.fail("a product accepts at most %d images, got %d", maxProductImages, len(urls))
	}
	b.images = urls
	return b
}

// UnitLabel sets the label shown per unit on invoices and receipts.
func (b *ProductBuilder) UnitLabel(label string) *ProductBuilder {
	b.unitLabel = label
	return b
}

// URL sets the publicly accessible product page.
func (b *ProductBuilder) URL(url string) *ProductBuilder {
	b.url = url
	return b
}

// Shippable marks the product as a shippable good.
func (b *ProductBuilder) Shippable(shippable bool) *ProductBuilder {
	b.shippable = &shippable
	return b
}

// Dimensions sets the package dimensions. All four measurements are
// required; a zero or negative value is rejected.
func (b *ProductBuilder) Dimensions(height, length, weight, width float64) *ProductBuilder {
	if height <= 0 || length <= 0 || weight <= 0 || width <= 0 {
		return b.fail("package dimensions require positive height, length, weight and width")
	}
	b.dimensions = &billing.PackageDimensions{
		Height: height,
		Length: length,
		Weight: weight,
		Width:  width,
	}
	return b
}

// Price sets a one-time default price in minor units.
func (b *ProductBuilder) Price(currency string, unitAmountCents int64) *ProductBuilder {
	if currency == "" {
		return b.fail("a default price requires a currency")
	}
	b.price = &billing.DefaultPriceData{
		Currency:        currency,
		UnitAmountCents: unitAmountCents,
	}
	return b
}

// RecurringPrice sets a recurring default price. interval is one of day,
// week, month or year.
func (b *ProductBuilder) RecurringPrice(currency string, unitAmountCents int64, interval string, intervalCount int64) *ProductBuilder {
	if currency == "" {
		return b.fail("a default price requires a currency")
	}
	switch interval {
	case "day", "week", "month", "year":
	default:
		return b.fail("invalid billing interval %q", interval)
	}
	if intervalCount < 1 {
		intervalCount = 1
	}
	b.price = &billing.DefaultPriceData{
		Currency:        currency,
		UnitAmountCents: unitAmountCents,
		Recurring: &billing.PriceRecurring{
			Interval:      interval,
			IntervalCount: intervalCount,
		},
	}
	return b
}

// Metadata merges key/value pairs into the product metadata.
func (b *ProductBuilder) Metadata(meta map[string]string) *ProductBuilder {
	if b.metadata == nil {
		b.metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		b.metadata[k] = v
	}
	return b
}

// Create runs the two-phase create: the local mirror row is inserted first,
// the remote product second. A remote failure rolls the local row back and
// returns the remote error.
func (b *ProductBuilder) Create(ctx context.Context) (*domain.Product, error) {
	const op = "service.ProductBuilder.Create"

	if b.err != nil {
		return nil, validationError(op, b.err.Error())
	}
	if b.name == "" {
		return nil, validationError(op, "a product name is required")
	}
	if b.model == nil || b.model.OwnerRef().IsZero() {
		return nil, validationError(op, "a model entity is required")
	}

	s := b.svc
	si, err := s.resolver.ResolveActive(ctx, b.model, b.integrationID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.ProviderFor(ctx, si.ID)
	if err != nil {
		return nil, err
	}

	var currentPrice int64
	if b.price != nil {
		currentPrice = b.price.UnitAmountCents
	}
	row, err := s.store.CreateProduct(ctx, &domain.Product{
		Name:                 b.name,
		CurrentPrice:         currentPrice,
		AllowRecurring:       b.price != nil && b.price.Recurring != nil,
		Active:               b.active,
		Metadata:             b.metadata,
		Model:                b.model.OwnerRef(),
		ServiceIntegrationID: si.ID,
	})
	if err != nil {
		return nil, err
	}

	meta := withIntegrationMeta(b.metadata, si)
	meta[metaModelID] = b.model.OwnerRef().ID
	meta[metaModelType] = b.model.OwnerRef().Kind
	meta[metaProductID] = fmt.Sprintf("%d", row.ID)
	meta[metaProductType] = productModelType

	done := observeLatency(s.metrics, si.ID, "create_product")
	remote, err := provider.CreateProduct(ctx, billing.CreateProductParams{
		Name:        b.name,
		Description: b.description,
		Active:      b.active,
		Images:      b.images,
		UnitLabel:   b.unitLabel,
		URL:         b.url,
		Shippable:   b.shippable,
		Dimensions:  b.dimensions,
		Price:       b.price,
		Metadata:    meta,
	})
	done()
	if err != nil {
		if delErr := s.store.DeleteProduct(ctx, row.ID); delErr != nil {
			s.log.Error().Err(delErr).
				Int64("product_row_id", row.ID).
				Msg("rollback of local product row failed after remote create error")
		}
		return nil, err
	}

	row.ProductID = remote.ID
	row.DefaultPriceID = remote.DefaultPriceID
	row, err = s.store.UpdateProduct(ctx, row)
	if err != nil {
		return nil, err
	}

	s.metrics.ProductsSynced.WithLabelValues(integrationLabel(si.ID), "create").Inc()
	s.log.Info().
		Int64("integration_id", si.ID).
		Int64("product_row_id", row.ID).
		Str("product_id", row.ProductID).
		Msg("product created")
	return row, nil
}

// Get returns the local mirror row.
func (s *ProductService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// ListByModel returns the mirror rows built for the given entity.
func (s *ProductService) ListByModel(ctx context.Context, model domain.IntegrationOwner) ([]domain.Product, error) {
	const op = "service.ProductService.ListByModel"

	if model == nil || model.OwnerRef().IsZero() {
		return nil, validationError(op, "a model entity is required")
	}
	return s.store.ListProductsByModel(ctx, model.OwnerRef())
}

// Update pushes product changes to the remote side and copies the affected
// mirror columns back. The local row is written only after the remote update
// succeeds.
func (s *ProductService) Update(ctx context.Context, id int64, params billing.UpdateProductParams) (*domain.Product, error) {
	const op = "service.ProductService.Update"

	row, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !row.Synced() {
		return nil, domain.Invalid(op, "product has no remote counterpart")
	}
	provider, err := s.providers.ProviderFor(ctx, row.ServiceIntegrationID)
	if err != nil {
		return nil, err
	}

	remote, err := provider.UpdateProduct(ctx, row.ProductID, params)
	if err != nil {
		return nil, err
	}

	row.Name = remote.Name
	row.Active = remote.Active
	row.DefaultPriceID = remote.DefaultPriceID
	if remote.DefaultPriceCents > 0 {
		row.CurrentPrice = remote.DefaultPriceCents
	}
	row, err = s.store.UpdateProduct(ctx, row)
	if err != nil {
		return nil, err
	}
	s.metrics.ProductsSynced.WithLabelValues(integrationLabel(row.ServiceIntegrationID), "update").Inc()
	return row, nil
}

// Activate makes the product purchasable again on both sides.
func (s *ProductService) Activate(ctx context.Context, id int64) (*domain.Product, error) {
	active := true
	return s.Update(ctx, id, billing.UpdateProductParams{Active: &active})
}

// Disable stops the product from being purchasable on both sides.
func (s *ProductService) Disable(ctx context.Context, id int64) (*domain.Product, error) {
	active := false
	return s.Update(ctx, id, billing.UpdateProductParams{Active: &active})
}

// Delete removes the local mirror row. The remote product cannot be hard
// deleted once it has prices attached, so it is renamed with a deletion
// marker and deactivated instead.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	row, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	if row.Synced() {
		provider, err := s.providers.ProviderFor(ctx, row.ServiceIntegrationID)
		if err != nil {
			return err
		}
		active := false
		name := fmt.Sprintf("%s (deleted %s)", row.Name, time.Now().UTC().Format("2006-01-02"))
		if _, err := provider.UpdateProduct(ctx, row.ProductID, billing.UpdateProductParams{
			Name:   &name,
			Active: &active,
		}); err != nil {
			return err
		}
	}

	if err := s.store.DeleteProduct(ctx, row.ID); err != nil {
		return err
	}
	s.log.Info().
		Int64("product_row_id", row.ID).
		Str("product_id", row.ProductID).
		Msg("product deleted")
	return nil
}
