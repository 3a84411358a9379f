package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackspot/multistripe/account"
	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

func TestCustomerCreateIfNotExists(t *testing.T) {
	owner := testOwner{kind: "user", id: "42"}

	t.Run("creates remote customer once", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		first, created, err := r.customers.CreateIfNotExists(ctx, owner, 1, billing.CreateCustomerParams{
			Email: "ana@example.com",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, first.CustomerID)

		second, created, err := r.customers.CreateIfNotExists(ctx, owner, 1, billing.CreateCustomerParams{
			Email: "ana@example.com",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.CustomerID, second.CustomerID)
		assert.Equal(t, 1, calls(r.mock, "CreateCustomer"))
	})

	t.Run("stamps traceability metadata on the remote customer", func(t *testing.T) {
		r := newRig(t)

		row, _, err := r.customers.CreateIfNotExists(context.Background(), owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)

		remote := r.mock.Customers[row.CustomerID]
		require.NotNil(t, remote)
		assert.Equal(t, "1", remote.Metadata["service_integration_id"])
		assert.Equal(t, "42", remote.Metadata["owner_id"])
		assert.Equal(t, "user", remote.Metadata["owner_type"])
	})

	t.Run("unique constraint race returns the winning row", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		// A concurrent request wins the insert; the losing request must
		// come back with the winner's row instead of an error.
		r.customerRows.conflictWith = &domain.Customer{
			CustomerID:           "cus_winner",
			ServiceIntegrationID: 1,
			Owner:                owner.OwnerRef(),
		}

		got, created, err := r.customers.CreateIfNotExists(ctx, owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "cus_winner", got.CustomerID)
	})

	t.Run("disabled integration is rejected before any remote call", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		require.NoError(t, r.integrations.SetIntegrationActive(ctx, 1, false))

		_, _, err := r.customers.CreateIfNotExists(ctx, owner, 1, billing.CreateCustomerParams{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrIntegrationDisabled))
		assert.Empty(t, r.mock.CallLog)
	})
}

func TestCustomerGet(t *testing.T) {
	owner := testOwner{kind: "user", id: "7"}

	t.Run("returns the remote customer", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		row, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{Email: "b@example.com"})
		require.NoError(t, err)

		remote, err := r.customers.Get(ctx, owner, 1)
		require.NoError(t, err)
		assert.Equal(t, row.CustomerID, remote.ID)
	})

	t.Run("without a mirror row", func(t *testing.T) {
		r := newRig(t)

		_, err := r.customers.Get(context.Background(), owner, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCustomerNotCreated))
	})

	t.Run("memoizes the remote lookup per request", func(t *testing.T) {
		r := newRig(t)
		ctx := account.WithCache(context.Background())

		_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)

		before := calls(r.mock, "GetCustomer")
		_, err = r.customers.Get(ctx, owner, 1)
		require.NoError(t, err)
		_, err = r.customers.Get(ctx, owner, 1)
		require.NoError(t, err)
		assert.Equal(t, before, calls(r.mock, "GetCustomer"))
	})
}

func TestCustomerExists(t *testing.T) {
	owner := testOwner{kind: "user", id: "9"}
	r := newRig(t)
	ctx := context.Background()

	exists, err := r.customers.Exists(ctx, owner, 1)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
	require.NoError(t, err)

	exists, err = r.customers.Exists(ctx, owner, 1)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCustomerDetachOwner(t *testing.T) {
	owner := testOwner{kind: "user", id: "11"}
	r := newRig(t)
	ctx := context.Background()

	_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
	require.NoError(t, err)

	require.NoError(t, r.customers.DetachOwner(ctx, owner.OwnerRef()))

	exists, err := r.customers.Exists(ctx, owner, 1)
	require.NoError(t, err)
	assert.False(t, exists)
}
