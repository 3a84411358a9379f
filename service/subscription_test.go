package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

// recurringProduct builds a synced, recurring product for the given model.
func recurringProduct(t *testing.T, r *rig, model testOwner, name string) *domain.Product {
	t.Helper()
	row, err := r.products.Builder(model, 1, name).
		RecurringPrice("mxn", 19900, "month", 1).
		Create(context.Background())
	require.NoError(t, err)
	return row
}

func TestSubscriptionCreate(t *testing.T) {
	owner := testOwner{kind: "user", id: "1"}

	t.Run("creates remote and local subscription", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Pro Plan")

		sub, err := r.subscriptions.Builder(owner, 1, "plan-pro").
			Product(product, 1).
			Add(ctx)
		require.NoError(t, err)

		assert.NotEmpty(t, sub.SubscriptionID)
		assert.Equal(t, "plan-pro", sub.IdentifiedBy)
		assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
		assert.Equal(t, owner.OwnerRef(), sub.Owner)
		require.Len(t, sub.Items, 1)
		assert.Equal(t, product.DefaultPriceID, sub.Items[0].PriceID)
		assert.Equal(t, product.ID, sub.Items[0].ProductID)

		remote := r.mock.Subscriptions[sub.SubscriptionID]
		require.NotNil(t, remote)
		assert.Equal(t, "1", remote.Metadata["service_integration_id"])
		assert.Equal(t, "1", remote.Metadata["owner_id"])
		assert.Equal(t, "user", remote.Metadata["owner_type"])
	})

	t.Run("same identifier returns the existing row without a remote call", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Pro Plan")

		first, err := r.subscriptions.Builder(owner, 1, "plan-pro").
			Product(product, 1).
			Add(ctx)
		require.NoError(t, err)

		before := calls(r.mock, "CreateSubscription")
		second, err := r.subscriptions.Builder(owner, 1, "plan-pro").
			Product(product, 1).
			Add(ctx)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, before, calls(r.mock, "CreateSubscription"))
	})

	t.Run("payment method is set as default before creating", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Pro Plan")

		sub, err := r.subscriptions.Builder(owner, 1, "plan-card").
			Product(product, 1).
			Create(ctx, "pm_card_visa")
		require.NoError(t, err)

		remote := r.mock.Subscriptions[sub.SubscriptionID]
		require.NotNil(t, remote)
		assert.Equal(t, "pm_card_visa", r.mock.Customers[remote.CustomerID].DefaultPaymentMethodID)
	})

	t.Run("requires at least one product", func(t *testing.T) {
		r := newRig(t)

		_, err := r.subscriptions.Builder(owner, 1, "plan-empty").Add(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Empty(t, r.mock.CallLog)
	})

	t.Run("trialing subscription", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Pro Plan")

		sub, err := r.subscriptions.Builder(owner, 1, "plan-trial").
			Product(product, 1).
			TrialDays(14).
			Add(ctx)
		require.NoError(t, err)

		assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
		require.NotNil(t, sub.TrialEndsAt)
		assert.True(t, sub.OnTrial())
	})

	t.Run("cancel-at schedules the grace period at creation", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Pro Plan")
		cancelAt := time.Now().AddDate(0, 3, 0)

		sub, err := r.subscriptions.Builder(owner, 1, "plan-timed").
			Product(product, 1).
			CancelAt(cancelAt).
			KeepProductsActiveFor(7).
			Add(ctx)
		require.NoError(t, err)

		assert.True(t, sub.WillBeCanceled)
		require.NotNil(t, sub.EndsAt)
		assert.True(t, sub.OnGracePeriod())
		require.NotNil(t, sub.KeepProductsActiveUntil)
		assert.Equal(t, cancelAt.AddDate(0, 0, 7).Unix(), sub.KeepProductsActiveUntil.Unix())
	})
}

func TestSubscriptionItemValidation(t *testing.T) {
	owner := testOwner{kind: "user", id: "2"}

	t.Run("non-recurring products are filtered out", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		oneTime, err := r.products.Builder(owner, 1, "Workshop").
			Price("mxn", 100).
			Create(ctx)
		require.NoError(t, err)
		recurring := recurringProduct(t, r, owner, "Plan")

		sub, err := r.subscriptions.Builder(owner, 1, "plan-mixed").
			Product(oneTime, 1).
			Product(recurring, 1).
			Add(ctx)
		require.NoError(t, err)
		require.Len(t, sub.Items, 1)
		assert.Equal(t, recurring.DefaultPriceID, sub.Items[0].PriceID)
	})

	t.Run("no recurring candidate aborts before any remote call", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		oneTime, err := r.products.Builder(owner, 1, "Workshop").
			Price("mxn", 100).
			Create(ctx)
		require.NoError(t, err)

		before := len(r.mock.CallLog)
		_, err = r.subscriptions.Builder(owner, 1, "plan-none").
			Product(oneTime, 1).
			Add(ctx)
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Len(t, r.mock.CallLog, before)
	})

	t.Run("recurring candidate without a default price fails", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		unsynced := &domain.Product{
			ID:                   99,
			Name:                 "Unsynced",
			AllowRecurring:       true,
			ServiceIntegrationID: 1,
		}

		_, err := r.subscriptions.Builder(owner, 1, "plan-unsynced").
			Product(unsynced, 1).
			Add(ctx)
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("product from another integration fails", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()

		foreign := &domain.Product{
			ID:                   100,
			Name:                 "Foreign",
			AllowRecurring:       true,
			DefaultPriceID:       "price_foreign",
			ServiceIntegrationID: 2,
		}

		_, err := r.subscriptions.Builder(owner, 1, "plan-foreign").
			Product(foreign, 1).
			Add(ctx)
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}

func TestSubscriptionBuilderOptions(t *testing.T) {
	owner := testOwner{kind: "user", id: "3"}

	t.Run("past anchor is rejected", func(t *testing.T) {
		r := newRig(t)
		product := recurringProduct(t, r, owner, "Plan")

		_, err := r.subscriptions.Builder(owner, 1, "plan-past").
			Product(product, 1).
			Anchor(time.Now().AddDate(0, 0, -2)).
			Add(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("unknown interval is rejected", func(t *testing.T) {
		r := newRig(t)
		product := recurringProduct(t, r, owner, "Plan")

		_, err := r.subscriptions.Builder(owner, 1, "plan-interval").
			Product(product, 1).
			Interval("fortnight", 1).
			Add(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("trial date before the anchor is ignored", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Plan")
		anchor := time.Now().AddDate(0, 0, 10)

		sub, err := r.subscriptions.Builder(owner, 1, "plan-short-trial").
			Product(product, 1).
			Anchor(anchor).
			TrialUntil(anchor.AddDate(0, 0, -3)).
			Add(ctx)
		require.NoError(t, err)
		assert.Nil(t, sub.TrialEndsAt)
		assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	})

	t.Run("trial date after the anchor applies", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Plan")
		anchor := time.Now().AddDate(0, 0, 1)

		sub, err := r.subscriptions.Builder(owner, 1, "plan-long-trial").
			Product(product, 1).
			Anchor(anchor).
			TrialUntil(anchor.AddDate(0, 0, 20)).
			Add(ctx)
		require.NoError(t, err)
		require.NotNil(t, sub.TrialEndsAt)
		assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
	})

	t.Run("skip trial wins over trial options", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Plan")

		var got billing.CreateSubscriptionParams
		r.mock.CreateSubscriptionFunc = func(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.Subscription, error) {
			got = params
			now := time.Now()
			return &billing.Subscription{
				ID: "sub_skip", CustomerID: params.CustomerID, Status: "active",
				CurrentPeriodStart: now, CurrentPeriodEnd: now.AddDate(0, 1, 0),
			}, nil
		}

		_, err := r.subscriptions.Builder(owner, 1, "plan-skip").
			Product(product, 1).
			TrialDays(30).
			SkipTrial().
			Add(ctx)
		require.NoError(t, err)
		assert.True(t, got.TrialNow)
		assert.Nil(t, got.TrialEndsAt)
		assert.True(t, got.OffSession)
		assert.Equal(t, billing.PaymentBehaviorAllowIncomplete, got.PaymentBehavior)
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	owner := testOwner{kind: "user", id: "4"}

	createSub := func(t *testing.T, r *rig, identifier string) *domain.Subscription {
		t.Helper()
		product := recurringProduct(t, r, owner, "Plan "+identifier)
		sub, err := r.subscriptions.Builder(owner, 1, identifier).
			Product(product, 1).
			Add(context.Background())
		require.NoError(t, err)
		return sub
	}

	t.Run("cancel schedules for period end with a grace period", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-a")

		canceled, err := r.subscriptions.Cancel(ctx, sub)
		require.NoError(t, err)

		assert.True(t, canceled.WillBeCanceled)
		require.NotNil(t, canceled.EndsAt)
		assert.True(t, canceled.OnGracePeriod())
		assert.True(t, canceled.Valid())
		assert.True(t, r.mock.Subscriptions[sub.SubscriptionID].CancelAtPeriodEnd)
	})

	t.Run("cancel on trial keeps only the trial remainder", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Trial Plan")
		sub, err := r.subscriptions.Builder(owner, 1, "plan-trial-cancel").
			Product(product, 1).
			TrialDays(5).
			Add(ctx)
		require.NoError(t, err)
		require.True(t, sub.OnTrial())

		canceled, err := r.subscriptions.Cancel(ctx, sub)
		require.NoError(t, err)
		require.NotNil(t, canceled.EndsAt)
		assert.Equal(t, sub.TrialEndsAt.Unix(), canceled.EndsAt.Unix())
	})

	t.Run("cancel now ends the subscription immediately", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-b")

		canceled, err := r.subscriptions.CancelNow(ctx, sub)
		require.NoError(t, err)

		assert.Equal(t, domain.SubscriptionStatusCanceled, canceled.Status)
		assert.False(t, canceled.OnGracePeriod())
		assert.True(t, canceled.Ended())
		assert.False(t, canceled.Valid())
	})

	t.Run("cancel at a fixed date", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-c")
		date := time.Now().AddDate(0, 2, 0)

		canceled, err := r.subscriptions.CancelAtDate(ctx, sub, date)
		require.NoError(t, err)
		require.NotNil(t, canceled.EndsAt)
		assert.Equal(t, date.Unix(), canceled.EndsAt.Unix())
		assert.True(t, canceled.OnGracePeriod())
	})

	t.Run("resume on grace period lifts the cancellation", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-d")

		canceled, err := r.subscriptions.Cancel(ctx, sub)
		require.NoError(t, err)
		require.True(t, canceled.OnGracePeriod())

		resumed, err := r.subscriptions.Resume(ctx, canceled)
		require.NoError(t, err)
		assert.Nil(t, resumed.EndsAt)
		assert.False(t, resumed.WillBeCanceled)
		assert.False(t, r.mock.Subscriptions[sub.SubscriptionID].CancelAtPeriodEnd)
	})

	t.Run("resume off the grace period fails without a remote call", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-e")

		canceled, err := r.subscriptions.CancelNow(ctx, sub)
		require.NoError(t, err)
		require.False(t, canceled.OnGracePeriod())

		before := len(r.mock.CallLog)
		_, err = r.subscriptions.Resume(ctx, canceled)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotOnGracePeriod))
		assert.Len(t, r.mock.CallLog, before)
	})

	t.Run("sync status copies the remote status", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-f")

		r.mock.Subscriptions[sub.SubscriptionID].Status = "past_due"

		synced, err := r.subscriptions.SyncStatus(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusPastDue, synced.Status)
		assert.True(t, synced.HasIncompletePayment())
		assert.False(t, synced.Active())
	})

	t.Run("mark canceled touches only the local row", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		sub := createSub(t, r, "plan-g")

		before := len(r.mock.CallLog)
		marked, err := r.subscriptions.MarkCanceled(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusCanceled, marked.Status)
		assert.Len(t, r.mock.CallLog, before)
	})
}

func TestSubscriptionIncompletePayment(t *testing.T) {
	owner := testOwner{kind: "user", id: "5"}

	t.Run("incomplete first payment returns the row and a typed error", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Plan")

		r.mock.CreateSubscriptionFunc = func(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.Subscription, error) {
			now := time.Now()
			return &billing.Subscription{
				ID:                 "sub_incomplete",
				CustomerID:         params.CustomerID,
				Status:             "incomplete",
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   now.AddDate(0, 1, 0),
				PaymentIntent: &billing.PaymentIntent{
					ID:     "pi_sca",
					Status: billing.PaymentIntentStatusRequiresAction,
				},
			}, nil
		}

		sub, err := r.subscriptions.Builder(owner, 1, "plan-sca").
			Product(product, 1).
			Add(ctx)
		require.Error(t, err)

		var incomplete *billing.IncompletePaymentError
		require.True(t, errors.As(err, &incomplete))
		assert.True(t, incomplete.RequiresAction())
		assert.Equal(t, "pi_sca", incomplete.Intent.ID)

		// The local row exists regardless: the remote subscription was
		// created and must be tracked.
		require.NotNil(t, sub)
		assert.Equal(t, domain.SubscriptionStatusIncomplete, sub.Status)
		assert.True(t, sub.HasIncompletePayment())
	})

	t.Run("intent waiting on confirmation is confirmed server-side", func(t *testing.T) {
		r := newRig(t)
		ctx := context.Background()
		product := recurringProduct(t, r, owner, "Plan")

		intent := &billing.PaymentIntent{
			ID:     "pi_confirm",
			Status: billing.PaymentIntentStatusRequiresConfirmation,
		}
		r.mock.PaymentIntents[intent.ID] = intent
		now := time.Now()
		r.mock.CreateSubscriptionFunc = func(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.Subscription, error) {
			return &billing.Subscription{
				ID:                 "sub_confirm",
				CustomerID:         params.CustomerID,
				Status:             "incomplete",
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   now.AddDate(0, 1, 0),
				PaymentIntent:      intent,
			}, nil
		}
		// Post-confirm, the remote subscription reports active; the local
		// row must pick that up.
		r.mock.Subscriptions["sub_confirm"] = &billing.Subscription{
			ID:                 "sub_confirm",
			Status:             "active",
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		}

		sub, err := r.subscriptions.Builder(owner, 1, "plan-confirm").
			Product(product, 1).
			Add(ctx)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, 1, calls(r.mock, "ConfirmPaymentIntent"))
		assert.Equal(t, billing.PaymentIntentStatusSucceeded, r.mock.PaymentIntents["pi_confirm"].Status)
		assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

		stored, err := r.subRows.GetSubscriptionByIdentifier(ctx, owner.OwnerRef(), "plan-confirm")
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	})
}
