package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/blackspot/multistripe/domain"
)

// IntegrationStore implements domain.IntegrationStore using PostgreSQL.
type IntegrationStore struct {
	db            DBTX
	table         string
	payloadColumn string
	columns       string
}

var _ domain.IntegrationStore = (*IntegrationStore)(nil)

// NewIntegrationStore creates a postgres-backed integration store.
func NewIntegrationStore(db DBTX, tables Tables) *IntegrationStore {
	t := tables.withDefaults()
	return &IntegrationStore{
		db:            db,
		table:         t.Integrations,
		payloadColumn: t.IntegrationPayloadColumn,
		columns: `id, name, short_name, owner_kind, owner_id, ` +
			t.IntegrationPayloadColumn + `, active, created_at, updated_at`,
	}
}

func scanIntegration(row pgx.Row) (*domain.ServiceIntegration, error) {
	var si domain.ServiceIntegration
	var ownerKind, ownerID *string

	err := row.Scan(&si.ID, &si.Name, &si.ShortName, &ownerKind, &ownerID,
		&si.Payload, &si.Active, &si.CreatedAt, &si.UpdatedAt)
	if err != nil {
		return nil, err
	}
	si.Owner = ownerFromColumns(ownerKind, ownerID)
	return &si, nil
}

// GetIntegration returns the integration with the given id.
func (s *IntegrationStore) GetIntegration(ctx context.Context, id int64) (*domain.ServiceIntegration, error) {
	const op = "postgres.IntegrationStore.GetIntegration"

	row := s.db.QueryRow(ctx, `
		SELECT `+s.columns+`
		FROM `+s.table+`
		WHERE id = $1`, id)

	si, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
				"service integration not found")
		}
		return nil, domain.Internal(err, op, "failed to get service integration")
	}
	return si, nil
}

// GetIntegrationByOwner returns the Stripe integration owned by the entity.
func (s *IntegrationStore) GetIntegrationByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.ServiceIntegration, error) {
	const op = "postgres.IntegrationStore.GetIntegrationByOwner"

	row := s.db.QueryRow(ctx, `
		SELECT `+s.columns+`
		FROM `+s.table+`
		WHERE owner_kind = $1 AND owner_id = $2
		  AND (lower(name) = lower($3) OR short_name = $4)
		ORDER BY id
		LIMIT 1`,
		owner.Kind, owner.ID, domain.ProviderStripeName, domain.ProviderStripeShort)

	si, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
				"no service integration for owner")
		}
		return nil, domain.Internal(err, op, "failed to get service integration by owner")
	}
	return si, nil
}

// CreateIntegration inserts a new integration and returns it with its id.
func (s *IntegrationStore) CreateIntegration(ctx context.Context, si *domain.ServiceIntegration) (*domain.ServiceIntegration, error) {
	const op = "postgres.IntegrationStore.CreateIntegration"

	ownerKind, ownerID := ownerColumns(si.Owner)

	row := s.db.QueryRow(ctx, `
		INSERT INTO `+s.table+` (name, short_name, owner_kind, owner_id, `+s.payloadColumn+`, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+s.columns,
		si.Name, si.ShortName, ownerKind, ownerID, si.Payload, si.Active)

	created, err := scanIntegration(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "an integration already exists for this owner")
		}
		return nil, domain.Internal(err, op, "failed to create service integration")
	}
	return created, nil
}

// UpdateIntegrationPayload replaces the credential payload.
func (s *IntegrationStore) UpdateIntegrationPayload(ctx context.Context, id int64, payload []byte) error {
	const op = "postgres.IntegrationStore.UpdateIntegrationPayload"

	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET `+s.payloadColumn+` = $2, updated_at = now()
		WHERE id = $1`, id, payload)
	if err != nil {
		return domain.Internal(err, op, "failed to update integration payload")
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
			"service integration not found")
	}
	return nil
}

// SetIntegrationActive toggles the active flag.
func (s *IntegrationStore) SetIntegrationActive(ctx context.Context, id int64, active bool) error {
	const op = "postgres.IntegrationStore.SetIntegrationActive"

	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET active = $2, updated_at = now()
		WHERE id = $1`, id, active)
	if err != nil {
		return domain.Internal(err, op, "failed to set integration active flag")
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrIntegrationNotFound, domain.ENOTFOUND, op,
			"service integration not found")
	}
	return nil
}
