package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider identity for Stripe integrations. Lookups match either the full
// provider name or its short form.
const (
	ProviderStripeName  = "Stripe"
	ProviderStripeShort = "str"
)

// ServiceIntegration is a configured payment account. Each row carries the
// provider identity, an optional owning entity, and a JSON payload holding
// the account credentials (optionally encrypted at rest).
type ServiceIntegration struct {
	ID        int64
	Name      string
	ShortName string
	Owner     OwnerRef
	Payload   []byte
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsStripe reports whether the integration belongs to the Stripe provider,
// matching on either the full name or the short name.
func (si *ServiceIntegration) IsStripe() bool {
	return strings.EqualFold(si.Name, ProviderStripeName) || si.ShortName == ProviderStripeShort
}

// PayloadKeys names the payload attributes holding each credential.
// Applications that store credentials under different keys override these.
type PayloadKeys struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
}

// DefaultPayloadKeys returns the conventional credential key names.
func DefaultPayloadKeys() PayloadKeys {
	return PayloadKeys{
		SecretKey:     "stripe_secret",
		PublicKey:     "stripe_key",
		WebhookSecret: "stripe_webhook_secret",
	}
}

// Credentials holds the decoded provider credentials for one integration.
type Credentials struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
}

// DecodeCredentials decodes the integration payload using the given key
// names. The payload being absent and an individual key being absent fail
// differently: the former wraps ErrPayloadMissing, the latter is surfaced
// by the accessor helpers below.
func (si *ServiceIntegration) DecodeCredentials(keys PayloadKeys) (*Credentials, error) {
	if len(si.Payload) == 0 {
		return nil, WrapError(ErrPayloadMissing, EINVALID, "integration.credentials",
			"integration has no credential payload")
	}

	var payload map[string]string
	if err := json.Unmarshal(si.Payload, &payload); err != nil {
		return nil, Internal(err, "integration.credentials", "failed to decode integration payload")
	}

	return &Credentials{
		SecretKey:     payload[keys.SecretKey],
		PublicKey:     payload[keys.PublicKey],
		WebhookSecret: payload[keys.WebhookSecret],
	}, nil
}

// Secret returns the secret key or wraps ErrCredentialMissing when unset.
func (c *Credentials) Secret() (string, error) {
	if c.SecretKey == "" {
		return "", WrapError(ErrCredentialMissing, EINVALID, "integration.credentials",
			"secret key is not set in the integration payload")
	}
	return c.SecretKey, nil
}

// Public returns the publishable key or wraps ErrCredentialMissing when unset.
func (c *Credentials) Public() (string, error) {
	if c.PublicKey == "" {
		return "", WrapError(ErrCredentialMissing, EINVALID, "integration.credentials",
			"publishable key is not set in the integration payload")
	}
	return c.PublicKey, nil
}

// Webhook returns the webhook signing secret or wraps ErrCredentialMissing
// when unset.
func (c *Credentials) Webhook() (string, error) {
	if c.WebhookSecret == "" {
		return "", WrapError(ErrCredentialMissing, EINVALID, "integration.credentials",
			"webhook secret is not set in the integration payload")
	}
	return c.WebhookSecret, nil
}
