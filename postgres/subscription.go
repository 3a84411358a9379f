package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/blackspot/multistripe/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	db         DBTX
	table      string
	itemsTable string
}

var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a postgres-backed subscription mirror store.
func NewSubscriptionStore(db DBTX, tables Tables) *SubscriptionStore {
	t := tables.withDefaults()
	return &SubscriptionStore{db: db, table: t.Subscriptions, itemsTable: t.SubscriptionItems}
}

const subscriptionColumns = `id, identified_by, owner_kind, owner_id, customer_id,
	subscription_id, status, trial_ends_at, ends_at, current_period_start,
	current_period_end, will_be_canceled, keep_products_active_until, metadata,
	service_integration_id, created_at, updated_at`

const subscriptionItemColumns = `id, subscription_id, item_id, price_id, quantity,
	product_id, metadata, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var ownerKind, ownerID *string

	err := row.Scan(&sub.ID, &sub.IdentifiedBy, &ownerKind, &ownerID, &sub.CustomerID,
		&sub.SubscriptionID, &sub.Status, &sub.TrialEndsAt, &sub.EndsAt,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.WillBeCanceled,
		&sub.KeepProductsActiveUntil, &sub.Metadata, &sub.ServiceIntegrationID,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Owner = ownerFromColumns(ownerKind, ownerID)
	return &sub, nil
}

func scanSubscriptionItem(row pgx.Row) (*domain.SubscriptionItem, error) {
	var item domain.SubscriptionItem

	err := row.Scan(&item.ID, &item.SubscriptionID, &item.ItemID, &item.PriceID,
		&item.Quantity, &item.ProductID, &item.Metadata, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *SubscriptionStore) loadItems(ctx context.Context, sub *domain.Subscription) error {
	const op = "postgres.SubscriptionStore.loadItems"

	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionItemColumns+`
		FROM `+s.itemsTable+`
		WHERE subscription_id = $1
		ORDER BY id`, sub.ID)
	if err != nil {
		return domain.Internal(err, op, "failed to list subscription items")
	}
	defer rows.Close()

	sub.Items = make([]domain.SubscriptionItem, 0)
	for rows.Next() {
		item, err := scanSubscriptionItem(rows)
		if err != nil {
			return domain.Internal(err, op, "failed to scan subscription item row")
		}
		sub.Items = append(sub.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return domain.Internal(err, op, "failed to read subscription item rows")
	}
	return nil
}

// GetSubscription returns the subscription row, with items, by id.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	const op = "postgres.SubscriptionStore.GetSubscription"

	row := s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM `+s.table+`
		WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription", strconv.FormatInt(id, 10))
		}
		return nil, domain.Internal(err, op, "failed to get subscription")
	}
	if err := s.loadItems(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByIdentifier returns the row, with items, for
// (owner, identifiedBy).
func (s *SubscriptionStore) GetSubscriptionByIdentifier(ctx context.Context, owner domain.OwnerRef, identifiedBy string) (*domain.Subscription, error) {
	const op = "postgres.SubscriptionStore.GetSubscriptionByIdentifier"

	row := s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM `+s.table+`
		WHERE owner_kind = $1 AND owner_id = $2 AND identified_by = $3`,
		owner.Kind, owner.ID, identifiedBy)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription", identifiedBy)
		}
		return nil, domain.Internal(err, op, "failed to get subscription by identifier")
	}
	if err := s.loadItems(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptionsByOwner returns every subscription row for the owner.
func (s *SubscriptionStore) ListSubscriptionsByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.Subscription, error) {
	const op = "postgres.SubscriptionStore.ListSubscriptionsByOwner"

	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM `+s.table+`
		WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY id`,
		owner.Kind, owner.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions by owner")
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan subscription row")
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read subscription rows")
	}

	for i := range subs {
		if err := s.loadItems(ctx, &subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// CreateSubscription inserts the subscription row. Concurrent creation for
// the same (owner, identified_by) surfaces as ECONFLICT via the unique
// constraint.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	const op = "postgres.SubscriptionStore.CreateSubscription"

	ownerKind, ownerID := ownerColumns(sub.Owner)

	row := s.db.QueryRow(ctx, `
		INSERT INTO `+s.table+`
			(identified_by, owner_kind, owner_id, customer_id, subscription_id,
			 status, trial_ends_at, ends_at, current_period_start, current_period_end,
			 will_be_canceled, keep_products_active_until, metadata, service_integration_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+subscriptionColumns,
		sub.IdentifiedBy, ownerKind, ownerID, sub.CustomerID, sub.SubscriptionID,
		sub.Status, sub.TrialEndsAt, sub.EndsAt, sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd, sub.WillBeCanceled, sub.KeepProductsActiveUntil,
		sub.Metadata, sub.ServiceIntegrationID)

	created, err := scanSubscription(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "a subscription already exists with this identifier")
		}
		return nil, domain.Internal(err, op, "failed to create subscription")
	}
	created.Items = make([]domain.SubscriptionItem, 0)
	return created, nil
}

// UpdateSubscription writes back status, trial, period and cancellation
// columns from the remote response.
func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	const op = "postgres.SubscriptionStore.UpdateSubscription"

	row := s.db.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET status = $2, trial_ends_at = $3, ends_at = $4,
			current_period_start = $5, current_period_end = $6,
			will_be_canceled = $7, keep_products_active_until = $8,
			metadata = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		sub.ID, sub.Status, sub.TrialEndsAt, sub.EndsAt,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.WillBeCanceled, sub.KeepProductsActiveUntil, sub.Metadata)

	updated, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription", strconv.FormatInt(sub.ID, 10))
		}
		return nil, domain.Internal(err, op, "failed to update subscription")
	}
	if err := s.loadItems(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpsertSubscriptionItem inserts or updates an item row keyed by its remote
// item id.
func (s *SubscriptionStore) UpsertSubscriptionItem(ctx context.Context, item *domain.SubscriptionItem) (*domain.SubscriptionItem, error) {
	const op = "postgres.SubscriptionStore.UpsertSubscriptionItem"

	row := s.db.QueryRow(ctx, `
		INSERT INTO `+s.itemsTable+`
			(subscription_id, item_id, price_id, quantity, product_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id) DO UPDATE
		SET price_id = EXCLUDED.price_id,
			quantity = EXCLUDED.quantity,
			product_id = EXCLUDED.product_id,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING `+subscriptionItemColumns,
		item.SubscriptionID, item.ItemID, item.PriceID, item.Quantity,
		item.ProductID, item.Metadata)

	upserted, err := scanSubscriptionItem(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to upsert subscription item")
	}
	return upserted, nil
}
