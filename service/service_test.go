package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

// testOwner is a minimal entity owning mirror rows.
type testOwner struct {
	kind string
	id   string
}

func (o testOwner) OwnerRef() domain.OwnerRef {
	return domain.OwnerRef{Kind: o.kind, ID: o.id}
}

// staticProviders hands out one fixed provider for every integration.
type staticProviders struct {
	provider billing.Provider
}

func (s staticProviders) ProviderFor(ctx context.Context, integrationID int64) (billing.Provider, error) {
	return s.provider, nil
}

type memIntegrationStore struct {
	mu   sync.Mutex
	byID map[int64]*domain.ServiceIntegration
}

func newMemIntegrationStore(integrations ...*domain.ServiceIntegration) *memIntegrationStore {
	s := &memIntegrationStore{byID: make(map[int64]*domain.ServiceIntegration)}
	for _, si := range integrations {
		s.byID[si.ID] = si
	}
	return s
}

func (s *memIntegrationStore) GetIntegration(ctx context.Context, id int64) (*domain.ServiceIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFound("memIntegrationStore.GetIntegration", "service integration", strconv.FormatInt(id, 10))
	}
	return si, nil
}

func (s *memIntegrationStore) GetIntegrationByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.ServiceIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, si := range s.byID {
		if si.Owner == owner {
			return si, nil
		}
	}
	return nil, domain.NotFound("memIntegrationStore.GetIntegrationByOwner", "service integration", owner.String())
}

func (s *memIntegrationStore) CreateIntegration(ctx context.Context, si *domain.ServiceIntegration) (*domain.ServiceIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si.ID = int64(len(s.byID) + 1)
	s.byID[si.ID] = si
	return si, nil
}

func (s *memIntegrationStore) UpdateIntegrationPayload(ctx context.Context, id int64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ok := s.byID[id]
	if !ok {
		return domain.NotFound("memIntegrationStore.UpdateIntegrationPayload", "service integration", strconv.FormatInt(id, 10))
	}
	si.Payload = payload
	return nil
}

func (s *memIntegrationStore) SetIntegrationActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ok := s.byID[id]
	if !ok {
		return domain.NotFound("memIntegrationStore.SetIntegrationActive", "service integration", strconv.FormatInt(id, 10))
	}
	si.Active = active
	return nil
}

type customerRowKey struct {
	owner         domain.OwnerRef
	integrationID int64
}

type memCustomerStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[customerRowKey]*domain.Customer

	// conflictWith simulates a concurrent request winning the unique
	// constraint race: the next CreateCustomer inserts this row and
	// reports a conflict.
	conflictWith *domain.Customer
}

func newMemCustomerStore() *memCustomerStore {
	return &memCustomerStore{rows: make(map[customerRowKey]*domain.Customer)}
}

func (s *memCustomerStore) GetCustomerByOwner(ctx context.Context, owner domain.OwnerRef, integrationID int64) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[customerRowKey{owner: owner, integrationID: integrationID}]
	if !ok {
		return nil, domain.NotFound("memCustomerStore.GetCustomerByOwner", "customer", owner.String())
	}
	return row, nil
}

func (s *memCustomerStore) CreateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictWith != nil {
		winner := s.conflictWith
		s.conflictWith = nil
		s.nextID++
		winner.ID = s.nextID
		s.rows[customerRowKey{owner: winner.Owner, integrationID: winner.ServiceIntegrationID}] = winner
		return nil, domain.Conflict("memCustomerStore.CreateCustomer", "a customer already exists for this owner")
	}
	key := customerRowKey{owner: c.Owner, integrationID: c.ServiceIntegrationID}
	if _, exists := s.rows[key]; exists {
		return nil, domain.Conflict("memCustomerStore.CreateCustomer", "a customer already exists for this owner")
	}
	s.nextID++
	c.ID = s.nextID
	s.rows[key] = c
	return c, nil
}

func (s *memCustomerStore) DetachCustomerOwner(ctx context.Context, owner domain.OwnerRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.rows {
		if key.owner == owner {
			row.Owner = domain.OwnerRef{}
			delete(s.rows, key)
			s.rows[customerRowKey{integrationID: key.integrationID}] = row
		}
	}
	return nil
}

type memProductStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Product
}

func newMemProductStore() *memProductStore {
	return &memProductStore{rows: make(map[int64]*domain.Product)}
}

func (s *memProductStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.NotFound("memProductStore.GetProduct", "product", strconv.FormatInt(id, 10))
	}
	clone := *row
	return &clone, nil
}

func (s *memProductStore) ListProductsByModel(ctx context.Context, model domain.OwnerRef) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0)
	for _, row := range s.rows {
		if row.Model == model {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memProductStore) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	clone := *p
	s.rows[p.ID] = &clone
	return p, nil
}

func (s *memProductStore) UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return nil, domain.NotFound("memProductStore.UpdateProduct", "product", strconv.FormatInt(p.ID, 10))
	}
	clone := *p
	s.rows[p.ID] = &clone
	return p, nil
}

func (s *memProductStore) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return domain.NotFound("memProductStore.DeleteProduct", "product", strconv.FormatInt(id, 10))
	}
	delete(s.rows, id)
	return nil
}

func (s *memProductStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type subRowKey struct {
	owner        domain.OwnerRef
	identifiedBy string
}

type memSubscriptionStore struct {
	mu         sync.Mutex
	nextID     int64
	nextItemID int64
	rows       map[int64]*domain.Subscription
	byKey      map[subRowKey]int64
	items      map[string]*domain.SubscriptionItem
}

func newMemSubscriptionStore() *memSubscriptionStore {
	return &memSubscriptionStore{
		rows:  make(map[int64]*domain.Subscription),
		byKey: make(map[subRowKey]int64),
		items: make(map[string]*domain.SubscriptionItem),
	}
}

func (s *memSubscriptionStore) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.NotFound("memSubscriptionStore.GetSubscription", "subscription", strconv.FormatInt(id, 10))
	}
	clone := *row
	return &clone, nil
}

func (s *memSubscriptionStore) GetSubscriptionByIdentifier(ctx context.Context, owner domain.OwnerRef, identifiedBy string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[subRowKey{owner: owner, identifiedBy: identifiedBy}]
	if !ok {
		return nil, domain.NotFound("memSubscriptionStore.GetSubscriptionByIdentifier", "subscription", identifiedBy)
	}
	clone := *s.rows[id]
	return &clone, nil
}

func (s *memSubscriptionStore) ListSubscriptionsByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Subscription, 0)
	for _, row := range s.rows {
		if row.Owner == owner {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memSubscriptionStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subRowKey{owner: sub.Owner, identifiedBy: sub.IdentifiedBy}
	if _, exists := s.byKey[key]; exists {
		return nil, domain.Conflict("memSubscriptionStore.CreateSubscription", "a subscription already exists with this identifier")
	}
	s.nextID++
	sub.ID = s.nextID
	clone := *sub
	s.rows[sub.ID] = &clone
	s.byKey[key] = sub.ID
	return sub, nil
}

func (s *memSubscriptionStore) UpdateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[sub.ID]; !ok {
		return nil, domain.NotFound("memSubscriptionStore.UpdateSubscription", "subscription", strconv.FormatInt(sub.ID, 10))
	}
	clone := *sub
	s.rows[sub.ID] = &clone
	return sub, nil
}

func (s *memSubscriptionStore) UpsertSubscriptionItem(ctx context.Context, item *domain.SubscriptionItem) (*domain.SubscriptionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[item.ItemID]; ok {
		item.ID = existing.ID
	} else {
		s.nextItemID++
		item.ID = s.nextItemID
	}
	clone := *item
	s.items[item.ItemID] = &clone
	return item, nil
}

// rig bundles the services under test over in-memory stores and the mock
// provider.
type rig struct {
	mock          *billing.MockProvider
	integration   *domain.ServiceIntegration
	integrations  *memIntegrationStore
	customerRows  *memCustomerStore
	productRows   *memProductStore
	subRows       *memSubscriptionStore
	customers     *CustomerService
	payments      *PaymentMethodService
	charges       *ChargeService
	products      *ProductService
	subscriptions *SubscriptionService
}

func newRig(t *testing.T) *rig {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"stripe_secret": "sk_test_abc"})
	require.NoError(t, err)

	integration := &domain.ServiceIntegration{
		ID:        1,
		Name:      domain.ProviderStripeName,
		ShortName: domain.ProviderStripeShort,
		Payload:   payload,
		Active:    true,
	}

	mock := billing.NewMockProvider()
	providers := staticProviders{provider: mock}
	integrations := newMemIntegrationStore(integration)
	resolver := account.NewResolver(integrations)
	log := zerolog.Nop()

	customerRows := newMemCustomerStore()
	productRows := newMemProductStore()
	subRows := newMemSubscriptionStore()

	customers := NewCustomerService(resolver, providers, customerRows, log, nil)
	payments := NewPaymentMethodService(resolver, providers, customers, log)
	charges := NewChargeService(resolver, providers, customers, "mxn", log, nil)
	products := NewProductService(resolver, providers, productRows, log, nil)
	subscriptions := NewSubscriptionService(resolver, providers, customers, payments, subRows,
		"mxn", billing.DefaultPolicy(), log, nil)

	return &rig{
		mock:          mock,
		integration:   integration,
		integrations:  integrations,
		customerRows:  customerRows,
		productRows:   productRows,
		subRows:       subRows,
		customers:     customers,
		payments:      payments,
		charges:       charges,
		products:      products,
		subscriptions: subscriptions,
	}
}

// calls counts mock provider calls whose log entry starts with method.
func calls(mock *billing.MockProvider, method string) int {
	n := 0
	for _, entry := range mock.CallLog {
		if strings.HasPrefix(entry, method+"(") {
			n++
		}
	}
	return n
}
