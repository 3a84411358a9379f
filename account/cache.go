package account

import (
	"context"
	"reflect"
	"sync"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

type contextKey string

const cacheContextKey contextKey = "account-cache"

// Cache memoizes integration resolutions within one request. It is carried
// on the context so repeated resolutions of the same entity inside a request
// hit memory instead of the store, and dropped with the request so nothing
// leaks across requests or processes.
type Cache struct {
	mu sync.Mutex

	// integrations memoizes entity -> resolved integration. Keyed by the
	// entity value itself, so only comparable entities are memoized.
	integrations map[any]*domain.ServiceIntegration

	// byID memoizes integration id -> integration for explicit-id lookups.
	byID map[int64]*domain.ServiceIntegration

	// customers memoizes (owner, integration id) -> local customer row.
	customers map[customerKey]*domain.Customer

	// remoteCustomers memoizes the fetched remote customer object separately
	// from the local row, so id lookups never force a remote fetch.
	remoteCustomers map[customerKey]*billing.Customer
}

type customerKey struct {
	owner         domain.OwnerRef
	integrationID int64
}

// NewCache creates an empty resolution cache.
func NewCache() *Cache {
	return &Cache{
		integrations:    make(map[any]*domain.ServiceIntegration),
		byID:            make(map[int64]*domain.ServiceIntegration),
		customers:       make(map[customerKey]*domain.Customer),
		remoteCustomers: make(map[customerKey]*billing.Customer),
	}
}

// WithCache returns a context carrying a fresh resolution cache. Attach one
// per request; resolutions without a cache in context simply skip memoization.
func WithCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheContextKey, NewCache())
}

// CacheFrom extracts the resolution cache from the context.
// Returns nil if no cache is present.
func CacheFrom(ctx context.Context) *Cache {
	c, ok := ctx.Value(cacheContextKey).(*Cache)
	if !ok {
		return nil
	}
	return c
}

// cacheable reports whether the entity can be used as a map key.
func cacheable(entity any) bool {
	if entity == nil {
		return false
	}
	return reflect.TypeOf(entity).Comparable()
}

func (c *Cache) getIntegration(entity any) (*domain.ServiceIntegration, bool) {
	if c == nil || !cacheable(entity) {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	si, ok := c.integrations[entity]
	return si, ok
}

func (c *Cache) putIntegration(entity any, si *domain.ServiceIntegration) {
	if c == nil || !cacheable(entity) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integrations[entity] = si
}

func (c *Cache) getIntegrationByID(id int64) (*domain.ServiceIntegration, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	si, ok := c.byID[id]
	return si, ok
}

func (c *Cache) putIntegrationByID(si *domain.ServiceIntegration) {
	if c == nil || si == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[si.ID] = si
}

// GetCustomer returns the memoized customer row for (owner, integration).
func (c *Cache) GetCustomer(owner domain.OwnerRef, integrationID int64) (*domain.Customer, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[customerKey{owner: owner, integrationID: integrationID}]
	return cust, ok
}

// PutCustomer memoizes the customer row for (owner, integration).
func (c *Cache) PutCustomer(owner domain.OwnerRef, integrationID int64, cust *domain.Customer) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[customerKey{owner: owner, integrationID: integrationID}] = cust
}

// GetRemoteCustomer returns the memoized remote customer for (owner, integration).
func (c *Cache) GetRemoteCustomer(owner domain.OwnerRef, integrationID int64) (*billing.Customer, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.remoteCustomers[customerKey{owner: owner, integrationID: integrationID}]
	return cust, ok
}

// PutRemoteCustomer memoizes the remote customer for (owner, integration).
func (c *Cache) PutRemoteCustomer(owner domain.OwnerRef, integrationID int64, cust *billing.Customer) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteCustomers[customerKey{owner: owner, integrationID: integrationID}] = cust
}

// Forget drops every memoized entry for the entity. Call after mutating an
// integration mid-request.
func (c *Cache) Forget(entity any) {
	if c == nil || !cacheable(entity) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.integrations, entity)
}
