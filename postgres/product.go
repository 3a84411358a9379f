package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/blackspot/multistripe/domain"
)

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	db    DBTX
	table string
}

var _ domain.ProductStore = (*ProductStore)(nil)

// NewProductStore creates a postgres-backed product mirror store.
func NewProductStore(db DBTX, tables Tables) *ProductStore {
	return &ProductStore{db: db, table: tables.withDefaults().Products}
}

const productColumns = `id, name, current_price, allow_recurring, active, metadata,
	product_id, default_price_id, model_kind, model_id, service_integration_id,
	created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	var modelKind, modelID *string

	err := row.Scan(&p.ID, &p.Name, &p.CurrentPrice, &p.AllowRecurring, &p.Active,
		&p.Metadata, &p.ProductID, &p.DefaultPriceID, &modelKind, &modelID,
		&p.ServiceIntegrationID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Model = ownerFromColumns(modelKind, modelID)
	return &p, nil
}

// GetProduct returns the product row with the given id.
func (s *ProductStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	const op = "postgres.ProductStore.GetProduct"

	row := s.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM `+s.table+`
		WHERE id = $1`, id)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "product", strconv.FormatInt(id, 10))
		}
		return nil, domain.Internal(err, op, "failed to get product")
	}
	return p, nil
}

// ListProductsByModel returns product rows built for the given entity.
func (s *ProductStore) ListProductsByModel(ctx context.Context, model domain.OwnerRef) ([]domain.Product, error) {
	const op = "postgres.ProductStore.ListProductsByModel"

	rows, err := s.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM `+s.table+`
		WHERE model_kind = $1 AND model_id = $2
		ORDER BY id`,
		model.Kind, model.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list products by model")
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan product row")
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read product rows")
	}
	return products, nil
}

// CreateProduct inserts a product row and returns it with its id.
func (s *ProductStore) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	const op = "postgres.ProductStore.CreateProduct"

	modelKind, modelID := ownerColumns(p.Model)

	row := s.db.QueryRow(ctx, `
		INSERT INTO `+s.table+`
			(name, current_price, allow_recurring, active, metadata,
			 product_id, default_price_id, model_kind, model_id, service_integration_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+productColumns,
		p.Name, p.CurrentPrice, p.AllowRecurring, p.Active, p.Metadata,
		p.ProductID, p.DefaultPriceID, modelKind, modelID, p.ServiceIntegrationID)

	created, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "a product already exists with this remote id")
		}
		return nil, domain.Internal(err, op, "failed to create product")
	}
	return created, nil
}

// UpdateProduct writes back the mutable mirror columns.
func (s *ProductStore) UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	const op = "postgres.ProductStore.UpdateProduct"

	row := s.db.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET name = $2, current_price = $3, allow_recurring = $4, active = $5,
			metadata = $6, product_id = $7, default_price_id = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.CurrentPrice, p.AllowRecurring, p.Active,
		p.Metadata, p.ProductID, p.DefaultPriceID)

	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "product", strconv.FormatInt(p.ID, 10))
		}
		return nil, domain.Internal(err, op, "failed to update product")
	}
	return updated, nil
}

// DeleteProduct removes the product row. Used both for builder rollback and
// for hard deletes after remote deactivation.
func (s *ProductStore) DeleteProduct(ctx context.Context, id int64) error {
	const op = "postgres.ProductStore.DeleteProduct"

	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table+` WHERE id = $1`, id)
	if err != nil {
		return domain.Internal(err, op, "failed to delete product")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(op, "product", strconv.FormatInt(id, 10))
	}
	return nil
}
