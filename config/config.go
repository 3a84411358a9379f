package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
)

// Options holds the library-wide settings: where integrations live, how the
// credential payload is keyed, which mirror tables are used and the default
// billing behavior. Load fills it from the environment; Default returns the
// conventional values for in-code construction.
type Options struct {
	// DatabaseURL is the postgres connection string for the mirror stores.
	DatabaseURL string

	// EncryptionKey is the base64-encoded 32-byte key used to decrypt
	// integration payloads at rest. Empty means payloads are stored plain.
	EncryptionKey string

	// Env is "dev" or "prod". Controls log formatting.
	Env string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// IntegrationsTable is the table holding service integrations.
	IntegrationsTable string

	// PayloadColumn is the JSON column on the integrations table holding
	// the account credentials.
	PayloadColumn string

	// PayloadKeys names the credential entries inside the payload.
	PayloadKeys domain.PayloadKeys

	// CustomersTable, ProductsTable, SubscriptionsTable and
	// SubscriptionItemsTable name the local mirror tables.
	CustomersTable         string
	ProductsTable          string
	SubscriptionsTable     string
	SubscriptionItemsTable string

	// DefaultCurrency is the ISO currency used when an operation does not
	// specify one.
	DefaultCurrency string

	// Policy is the default payment/proration behavior for subscription
	// operations.
	Policy billing.Policy
}

// Default returns the conventional option values.
func Default() Options {
	return Options{
		Env:                    "dev",
		LogLevel:               "info",
		IntegrationsTable:      "service_integrations",
		PayloadColumn:          "payload",
		PayloadKeys:            domain.DefaultPayloadKeys(),
		CustomersTable:         "stripe_customers",
		ProductsTable:          "stripe_products",
		SubscriptionsTable:     "stripe_subscriptions",
		SubscriptionItemsTable: "stripe_subscription_items",
		DefaultCurrency:        "mxn",
		Policy:                 billing.DefaultPolicy(),
	}
}

// Load reads options from the environment with the MULTISTRIPE_ prefix,
// loading a .env file first when present. Unset variables keep the Default
// values.
func Load() (Options, error) {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MULTISTRIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	opts := Default()

	v.SetDefault("database_url", opts.DatabaseURL)
	v.SetDefault("encryption_key", opts.EncryptionKey)
	v.SetDefault("env", opts.Env)
	v.SetDefault("log_level", opts.LogLevel)
	v.SetDefault("integrations_table", opts.IntegrationsTable)
	v.SetDefault("payload_column", opts.PayloadColumn)
	v.SetDefault("secret_key_name", opts.PayloadKeys.SecretKey)
	v.SetDefault("public_key_name", opts.PayloadKeys.PublicKey)
	v.SetDefault("webhook_secret_name", opts.PayloadKeys.WebhookSecret)
	v.SetDefault("customers_table", opts.CustomersTable)
	v.SetDefault("products_table", opts.ProductsTable)
	v.SetDefault("subscriptions_table", opts.SubscriptionsTable)
	v.SetDefault("subscription_items_table", opts.SubscriptionItemsTable)
	v.SetDefault("default_currency", opts.DefaultCurrency)
	v.SetDefault("payment_behavior", opts.Policy.PaymentBehavior)
	v.SetDefault("proration_behavior", opts.Policy.ProrationBehavior)

	opts.DatabaseURL = v.GetString("database_url")
	opts.EncryptionKey = v.GetString("encryption_key")
	opts.Env = v.GetString("env")
	opts.LogLevel = v.GetString("log_level")
	opts.IntegrationsTable = v.GetString("integrations_table")
	opts.PayloadColumn = v.GetString("payload_column")
	opts.PayloadKeys = domain.PayloadKeys{
		SecretKey:     v.GetString("secret_key_name"),
		PublicKey:     v.GetString("public_key_name"),
		WebhookSecret: v.GetString("webhook_secret_name"),
	}
	opts.CustomersTable = v.GetString("customers_table")
	opts.ProductsTable = v.GetString("products_table")
	opts.SubscriptionsTable = v.GetString("subscriptions_table")
	opts.SubscriptionItemsTable = v.GetString("subscription_items_table")
	opts.DefaultCurrency = v.GetString("default_currency")
	opts.Policy = billing.Policy{
		PaymentBehavior:   v.GetString("payment_behavior"),
		ProrationBehavior: v.GetString("proration_behavior"),
	}

	if opts.Env != "dev" && opts.Env != "prod" {
		opts.Env = "prod"
	}
	return opts, nil
}
