package domain

import "fmt"

// OwnerRef identifies an application entity polymorphically, the way the
// mirror tables reference their owning models. Kind is a stable type name
// chosen by the application (e.g. "user", "company"), ID is the entity's
// primary key rendered as a string.
type OwnerRef struct {
	Kind string
	ID   string
}

// IsZero reports whether the reference is empty.
func (r OwnerRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// String returns a stable "kind:id" rendering for logs and error messages.
func (r OwnerRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// IntegrationOwner is implemented by entities that can own mirror rows
// (customers, products, subscriptions). The resolver also uses it as the
// lowest-priority resolution strategy: look up the integration owned by
// this entity.
type IntegrationOwner interface {
	OwnerRef() OwnerRef
}

// HasIntegrationID is implemented by entities that carry a direct
// service_integration_id reference. Checked before custom accessors and
// owner lookups during resolution.
type HasIntegrationID interface {
	ServiceIntegrationID() int64
}

// StripeAccountHolder is implemented by entities that expose a custom
// accessor for the Stripe account they bill against. Checked after
// HasIntegrationID and before the owner lookup.
type StripeAccountHolder interface {
	StripeAccountID() int64
}
