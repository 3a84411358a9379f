package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackspot/multistripe/config"
)

func TestStoreTableDefaults(t *testing.T) {
	store := NewStore(nil)

	assert.Equal(t, "service_integrations", store.Integrations.table)
	assert.Equal(t, "payload", store.Integrations.payloadColumn)
	assert.Equal(t, "stripe_customers", store.Customers.table)
	assert.Equal(t, "stripe_products", store.Products.table)
	assert.Equal(t, "stripe_subscriptions", store.Subscriptions.table)
	assert.Equal(t, "stripe_subscription_items", store.Subscriptions.itemsTable)
}

func TestStoreFromOptions(t *testing.T) {
	opts := config.Default()
	opts.IntegrationsTable = "billing_accounts"
	opts.PayloadColumn = "credentials"
	opts.CustomersTable = "billing_customers"
	opts.ProductsTable = "billing_products"
	opts.SubscriptionsTable = "billing_subscriptions"
	opts.SubscriptionItemsTable = "billing_subscription_items"

	store := NewStoreFromOptions(nil, opts)

	assert.Equal(t, "billing_accounts", store.Integrations.table)
	assert.Equal(t, "credentials", store.Integrations.payloadColumn)
	assert.Contains(t, store.Integrations.columns, "credentials")
	assert.Equal(t, "billing_customers", store.Customers.table)
	assert.Equal(t, "billing_products", store.Products.table)
	assert.Equal(t, "billing_subscriptions", store.Subscriptions.table)
	assert.Equal(t, "billing_subscription_items", store.Subscriptions.itemsTable)
}
