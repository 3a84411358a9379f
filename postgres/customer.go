package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/blackspot/multistripe/domain"
)

// CustomerStore implements domain.CustomerStore using PostgreSQL.
type CustomerStore struct {
	db    DBTX
	table string
}

var _ domain.CustomerStore = (*CustomerStore)(nil)

// NewCustomerStore creates a postgres-backed customer mirror store.
func NewCustomerStore(db DBTX, tables Tables) *CustomerStore {
	return &CustomerStore{db: db, table: tables.withDefaults().Customers}
}

const customerColumns = `id, customer_id, service_integration_id, owner_kind, owner_id, created_at, updated_at`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	var ownerKind, ownerID *string

	err := row.Scan(&c.ID, &c.CustomerID, &c.ServiceIntegrationID,
		&ownerKind, &ownerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Owner = ownerFromColumns(ownerKind, ownerID)
	return &c, nil
}

// GetCustomerByOwner returns the mirror row for (owner, integration).
func (s *CustomerStore) GetCustomerByOwner(ctx context.Context, owner domain.OwnerRef, integrationID int64) (*domain.Customer, error) {
	const op = "postgres.CustomerStore.GetCustomerByOwner"

	row := s.db.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM `+s.table+`
		WHERE owner_kind = $1 AND owner_id = $2 AND service_integration_id = $3`,
		owner.Kind, owner.ID, integrationID)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "customer", owner.String())
		}
		return nil, domain.Internal(err, op, "failed to get customer by owner")
	}
	return c, nil
}

// CreateCustomer inserts a mirror row. Concurrent creation for the same
// (owner, integration) surfaces as ECONFLICT via the unique constraint.
func (s *CustomerStore) CreateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	const op = "postgres.CustomerStore.CreateCustomer"

	ownerKind, ownerID := ownerColumns(c.Owner)

	row := s.db.QueryRow(ctx, `
		INSERT INTO `+s.table+` (customer_id, service_integration_id, owner_kind, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+customerColumns,
		c.CustomerID, c.ServiceIntegrationID, ownerKind, ownerID)

	created, err := scanCustomer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "a customer already exists for this owner and integration")
		}
		return nil, domain.Internal(err, op, "failed to create customer")
	}
	return created, nil
}

// DetachCustomerOwner nulls the owner reference on every mirror row for the
// owner, preserving the rows for audit after the entity is deleted.
func (s *CustomerStore) DetachCustomerOwner(ctx context.Context, owner domain.OwnerRef) error {
	const op = "postgres.CustomerStore.DetachCustomerOwner"

	_, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET owner_kind = NULL, owner_id = NULL, updated_at = now()
		WHERE owner_kind = $1 AND owner_id = $2`,
		owner.Kind, owner.ID)
	if err != nil {
		return domain.Internal(err, op, "failed to detach customer owner")
	}
	return nil
}
