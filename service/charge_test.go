package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackspot/multistripe/billing"
)

func TestChargePayloadModes(t *testing.T) {
	owner := testOwner{kind: "user", id: "1"}

	t.Run("automatic mode never carries explicit method types", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)

		var got billing.CreatePaymentIntentParams
		r.mock.CreatePaymentIntentFunc = func(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
			got = params
			return &billing.PaymentIntent{ID: "pi_1", Status: billing.PaymentIntentStatusRequiresPaymentMethod}, nil
		}

		_, err = r.charges.PayAutomatic(ctx, owner, 1, 5000, billing.CreatePaymentIntentParams{
			PaymentMethodTypes: []string{"card"}, // must be dropped
		})
		require.NoError(t, err)
		assert.True(t, got.AutomaticPaymentMethods)
		assert.Nil(t, got.PaymentMethodTypes)
	})

	t.Run("explicit mode never carries automatic selection", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)

		var got billing.CreatePaymentIntentParams
		r.mock.CreatePaymentIntentFunc = func(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
			got = params
			return &billing.PaymentIntent{ID: "pi_2", Status: billing.PaymentIntentStatusRequiresPaymentMethod}, nil
		}

		_, err = r.charges.PayWith(ctx, owner, 1, 5000, []string{"card", "oxxo"}, billing.CreatePaymentIntentParams{
			AutomaticPaymentMethods: true, // must be dropped
		})
		require.NoError(t, err)
		assert.False(t, got.AutomaticPaymentMethods)
		assert.Equal(t, []string{"card", "oxxo"}, got.PaymentMethodTypes)
	})

	t.Run("explicit mode requires at least one type", func(t *testing.T) {
		r := newRig(t)

		_, err := r.charges.PayWith(context.Background(), owner, 1, 5000, nil, billing.CreatePaymentIntentParams{})
		require.Error(t, err)
		assert.Empty(t, r.mock.CallLog)
	})
}

func TestChargeCreatePaymentIntent(t *testing.T) {
	owner := testOwner{kind: "user", id: "2"}
	r := newRig(t)
	ctx := context.Background()

	row, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
	require.NoError(t, err)

	intent, err := r.charges.CreatePaymentIntent(ctx, owner, 1, 12500, billing.CreatePaymentIntentParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(12500), intent.AmountCents)
	assert.Equal(t, "mxn", intent.Currency)
	assert.Equal(t, row.CustomerID, intent.CustomerID)
	assert.Equal(t, "1", intent.Metadata["service_integration_id"])
}

func TestChargeMakeCharge(t *testing.T) {
	owner := testOwner{kind: "user", id: "3"}

	t.Run("confirms immediately with the given method", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
		require.NoError(t, err)

		intent, err := r.charges.MakeCharge(ctx, owner, 1, 9900, "pm_card", billing.CreatePaymentIntentParams{})
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentIntentStatusSucceeded, intent.Status)
		assert.Equal(t, "pm_card", intent.PaymentMethodID)
	})

	t.Run("requires a payment method id", func(t *testing.T) {
		r := newRig(t)

		_, err := r.charges.MakeCharge(context.Background(), owner, 1, 9900, "", billing.CreatePaymentIntentParams{})
		require.Error(t, err)
		assert.Empty(t, r.mock.CallLog)
	})
}

func TestChargeRefund(t *testing.T) {
	owner := testOwner{kind: "user", id: "4"}
	r := newRig(t)
	ctx := context.Background()

	_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
	require.NoError(t, err)

	intent, err := r.charges.MakeCharge(ctx, owner, 1, 9900, "pm_card", billing.CreatePaymentIntentParams{})
	require.NoError(t, err)

	t.Run("full refund", func(t *testing.T) {
		refund, err := r.charges.Refund(ctx, owner, 1, billing.RefundParams{PaymentIntentID: intent.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(9900), refund.AmountCents)
		assert.Equal(t, "succeeded", refund.Status)
	})

	t.Run("partial refund", func(t *testing.T) {
		refund, err := r.charges.Refund(ctx, owner, 1, billing.RefundParams{
			PaymentIntentID: intent.ID,
			AmountCents:     1500,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1500), refund.AmountCents)
	})
}

func TestChargeFind(t *testing.T) {
	owner := testOwner{kind: "user", id: "5"}
	r := newRig(t)
	ctx := context.Background()

	_, err := r.customers.GetOrCreate(ctx, owner, 1, billing.CreateCustomerParams{})
	require.NoError(t, err)

	created, err := r.charges.CreatePaymentIntent(ctx, owner, 1, 100, billing.CreatePaymentIntentParams{})
	require.NoError(t, err)

	found, err := r.charges.Find(ctx, owner, 1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}
