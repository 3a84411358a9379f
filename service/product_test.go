package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

func TestProductBuilderCreate(t *testing.T) {
	model := testOwner{kind: "course", id: "101"}

	t.Run("creates local and remote product", func(t *testing.T) {
		r := newRig(t)

		row, err := r.products.Builder(model, 1, "Pro Plan").
			Description("Monthly access").
			RecurringPrice("mxn", 49900, "month", 1).
			Create(context.Background())
		require.NoError(t, err)

		assert.NotEmpty(t, row.ProductID)
		assert.NotEmpty(t, row.DefaultPriceID)
		assert.True(t, row.Synced())
		assert.True(t, row.AllowRecurring)
		assert.Equal(t, int64(49900), row.CurrentPrice)
		assert.Equal(t, model.OwnerRef(), row.Model)

		remote := r.mock.Products[row.ProductID]
		require.NotNil(t, remote)
		assert.Equal(t, "1", remote.Metadata["service_integration_id"])
		assert.Equal(t, "101", remote.Metadata["model_id"])
		assert.Equal(t, "course", remote.Metadata["model_type"])
	})

	t.Run("one-time price disallows recurring", func(t *testing.T) {
		r := newRig(t)

		row, err := r.products.Builder(model, 1, "Workshop").
			Price("mxn", 15000).
			Create(context.Background())
		require.NoError(t, err)
		assert.False(t, row.AllowRecurring)
	})

	t.Run("remote failure rolls the local row back", func(t *testing.T) {
		r := newRig(t)
		r.mock.CreateProductFunc = func(ctx context.Context, params billing.CreateProductParams) (*billing.Product, error) {
			return nil, &billing.StripeError{Message: "api down", HTTPStatus: 500}
		}

		_, err := r.products.Builder(model, 1, "Doomed").
			Price("mxn", 100).
			Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, 0, r.productRows.count())
	})

	t.Run("rejects more than eight images", func(t *testing.T) {
		r := newRig(t)
		urls := make([]string, 9)

		_, err := r.products.Builder(model, 1, "Gallery").
			Images(urls...).
			Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Empty(t, r.mock.CallLog)
	})

	t.Run("rejects incomplete package dimensions", func(t *testing.T) {
		r := newRig(t)

		_, err := r.products.Builder(model, 1, "Box").
			Dimensions(10, 20, 0, 5).
			Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("rejects a default price without currency", func(t *testing.T) {
		r := newRig(t)

		_, err := r.products.Builder(model, 1, "Nameless").
			Price("", 100).
			Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("requires a name", func(t *testing.T) {
		r := newRig(t)

		_, err := r.products.Builder(model, 1, "").Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}

func TestProductUpdate(t *testing.T) {
	model := testOwner{kind: "course", id: "5"}

	t.Run("writes remote changes back locally", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		row, err := r.products.Builder(model, 1, "Old Name").
			Price("mxn", 100).
			Create(ctx)
		require.NoError(t, err)

		name := "New Name"
		updated, err := r.products.Update(ctx, row.ID, billing.UpdateProductParams{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "New Name", updated.Name)
		assert.Equal(t, "New Name", r.mock.Products[row.ProductID].Name)
	})

	t.Run("activate and disable", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		row, err := r.products.Builder(model, 1, "Toggle").
			Price("mxn", 100).
			Create(ctx)
		require.NoError(t, err)

		disabled, err := r.products.Disable(ctx, row.ID)
		require.NoError(t, err)
		assert.False(t, disabled.Active)
		assert.False(t, r.mock.Products[row.ProductID].Active)

		activated, err := r.products.Activate(ctx, row.ID)
		require.NoError(t, err)
		assert.True(t, activated.Active)
	})

	t.Run("unsynced row cannot be updated", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		row, err := r.productRows.CreateProduct(ctx, &domain.Product{
			Name:                 "Local only",
			ServiceIntegrationID: 1,
			Model:                model.OwnerRef(),
		})
		require.NoError(t, err)

		_, err = r.products.Update(ctx, row.ID, billing.UpdateProductParams{})
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}

func TestProductDelete(t *testing.T) {
	model := testOwner{kind: "course", id: "6"}
	r := newRig(t)
	ctx := context.Background()

	row, err := r.products.Builder(model, 1, "Ephemeral").
		Price("mxn", 100).
		Create(ctx)
	require.NoError(t, err)

	require.NoError(t, r.products.Delete(ctx, row.ID))

	// The local row is gone; the remote product survives, renamed and
	// deactivated, because Stripe forbids hard deletes once prices exist.
	_, err = r.products.Get(ctx, row.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	remote := r.mock.Products[row.ProductID]
	require.NotNil(t, remote)
	assert.False(t, remote.Active)
	assert.Contains(t, remote.Name, "deleted")
}

func TestProductListByModel(t *testing.T) {
	model := testOwner{kind: "course", id: "7"}
	r := newRig(t)
	ctx := context.Background()

	_, err := r.products.Builder(model, 1, "A").Price("mxn", 100).Create(ctx)
	require.NoError(t, err)
	_, err = r.products.Builder(model, 1, "B").Price("mxn", 200).Create(ctx)
	require.NoError(t, err)

	rows, err := r.products.ListByModel(ctx, model)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
