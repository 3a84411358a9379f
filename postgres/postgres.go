package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blackspot/multistripe/config"
	"github.com/blackspot/multistripe/domain"
)

// DBTX is the pgx query surface the stores run against. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so callers can run any store inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// Tables names the relations the stores run against. Zero values fall back
// to the names used by the bundled migrations.
type Tables struct {
	Integrations             string
	IntegrationPayloadColumn string
	Customers                string
	Products                 string
	Subscriptions            string
	SubscriptionItems        string
}

func (t Tables) withDefaults() Tables {
	if t.Integrations == "" {
		t.Integrations = "service_integrations"
	}
	if t.IntegrationPayloadColumn == "" {
		t.IntegrationPayloadColumn = "payload"
	}
	if t.Customers == "" {
		t.Customers = "stripe_customers"
	}
	if t.Products == "" {
		t.Products = "stripe_products"
	}
	if t.Subscriptions == "" {
		t.Subscriptions = "stripe_subscriptions"
	}
	if t.SubscriptionItems == "" {
		t.SubscriptionItems = "stripe_subscription_items"
	}
	return t
}

// Store bundles the postgres-backed implementations of the domain store
// interfaces over one connection pool.
type Store struct {
	Integrations  *IntegrationStore
	Customers     *CustomerStore
	Products      *ProductStore
	Subscriptions *SubscriptionStore
}

// NewStore creates the store bundle on the conventional table names.
func NewStore(db DBTX) *Store {
	return NewStoreWithTables(db, Tables{})
}

// NewStoreWithTables creates the store bundle on custom table names.
func NewStoreWithTables(db DBTX, tables Tables) *Store {
	t := tables.withDefaults()
	return &Store{
		Integrations:  NewIntegrationStore(db, t),
		Customers:     NewCustomerStore(db, t),
		Products:      NewProductStore(db, t),
		Subscriptions: NewSubscriptionStore(db, t),
	}
}

// NewStoreFromOptions creates the store bundle with the table and column
// names configured in opts.
func NewStoreFromOptions(db DBTX, opts config.Options) *Store {
	return NewStoreWithTables(db, Tables{
		Integrations:             opts.IntegrationsTable,
		IntegrationPayloadColumn: opts.PayloadColumn,
		Customers:                opts.CustomersTable,
		Products:                 opts.ProductsTable,
		Subscriptions:            opts.SubscriptionsTable,
		SubscriptionItems:        opts.SubscriptionItemsTable,
	})
}

// isUniqueViolation reports whether the error is a postgres unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ownerColumns splits an OwnerRef into its nullable column values.
func ownerColumns(ref domain.OwnerRef) (kind, id *string) {
	if ref.IsZero() {
		return nil, nil
	}
	return &ref.Kind, &ref.ID
}

// ownerFromColumns rebuilds an OwnerRef from nullable column values.
func ownerFromColumns(kind, id *string) domain.OwnerRef {
	if kind == nil || id == nil {
		return domain.OwnerRef{}
	}
	return domain.OwnerRef{Kind: *kind, ID: *id}
}
