package domain

import "context"

// IntegrationStore persists service integrations.
type IntegrationStore interface {
	// GetIntegration returns the integration with the given id.
	GetIntegration(ctx context.Context, id int64) (*ServiceIntegration, error)

	// GetIntegrationByOwner returns the Stripe integration owned by the
	// given entity.
	GetIntegrationByOwner(ctx context.Context, owner OwnerRef) (*ServiceIntegration, error)

	// CreateIntegration inserts a new integration and returns it with its id.
	CreateIntegration(ctx context.Context, si *ServiceIntegration) (*ServiceIntegration, error)

	// UpdateIntegrationPayload replaces the credential payload.
	UpdateIntegrationPayload(ctx context.Context, id int64, payload []byte) error

	// SetIntegrationActive toggles the active flag.
	SetIntegrationActive(ctx context.Context, id int64, active bool) error
}

// CustomerStore persists local customer mirror rows.
type CustomerStore interface {
	// GetCustomerByOwner returns the mirror row for (owner, integration).
	GetCustomerByOwner(ctx context.Context, owner OwnerRef, integrationID int64) (*Customer, error)

	// CreateCustomer inserts a mirror row. The unique constraint on
	// (owner, integration) surfaces concurrent duplicates as ECONFLICT.
	CreateCustomer(ctx context.Context, c *Customer) (*Customer, error)

	// DetachCustomerOwner nulls the owner reference on every mirror row for
	// the owner, preserving the rows for audit after the entity is deleted.
	DetachCustomerOwner(ctx context.Context, owner OwnerRef) error
}

// ProductStore persists local product mirror rows.
type ProductStore interface {
	// GetProduct returns the product row with the given id.
	GetProduct(ctx context.Context, id int64) (*Product, error)

	// ListProductsByModel returns product rows built for the given entity.
	ListProductsByModel(ctx context.Context, model OwnerRef) ([]Product, error)

	// CreateProduct inserts a product row and returns it with its id.
	CreateProduct(ctx context.Context, p *Product) (*Product, error)

	// UpdateProduct writes back the mutable mirror columns.
	UpdateProduct(ctx context.Context, p *Product) (*Product, error)

	// DeleteProduct removes the product row. Used both for builder rollback
	// and for hard deletes after remote deactivation.
	DeleteProduct(ctx context.Context, id int64) error
}

// SubscriptionStore persists local subscription mirror rows and their items.
type SubscriptionStore interface {
	// GetSubscription returns the subscription row, with items, by id.
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)

	// GetSubscriptionByIdentifier returns the row, with items, for
	// (owner, identifiedBy). ENOTFOUND when absent.
	GetSubscriptionByIdentifier(ctx context.Context, owner OwnerRef, identifiedBy string) (*Subscription, error)

	// ListSubscriptionsByOwner returns every subscription row for the owner.
	ListSubscriptionsByOwner(ctx context.Context, owner OwnerRef) ([]Subscription, error)

	// CreateSubscription inserts the subscription row. The unique constraint
	// on (owner, identified_by) surfaces concurrent duplicates as ECONFLICT.
	CreateSubscription(ctx context.Context, s *Subscription) (*Subscription, error)

	// UpdateSubscription writes back status, trial, period and cancellation
	// columns from the remote response.
	UpdateSubscription(ctx context.Context, s *Subscription) (*Subscription, error)

	// UpsertSubscriptionItem inserts or updates an item row keyed by its
	// remote item id.
	UpsertSubscriptionItem(ctx context.Context, item *SubscriptionItem) (*SubscriptionItem, error)
}
