package billing

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StripeConfig contains the credentials of one Stripe account, decoded from
// a service integration payload.
type StripeConfig struct {
	// SecretKey is the Stripe secret key (sk_test_... or sk_live_...)
	SecretKey string `validate:"required,startswith=sk_"`

	// PublicKey is the publishable key (pk_...). Not used for API calls;
	// surfaced for frontends that build payment sheets.
	PublicKey string `validate:"omitempty,startswith=pk_"`

	// WebhookSecret is the webhook signing secret (whsec_...).
	WebhookSecret string `validate:"omitempty,startswith=whsec_"`
}

// Validate checks that required configuration is present and that the keys
// look like Stripe keys. Only the secret key is mandatory; publishable key
// and webhook secret are account options.
func (c *StripeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("stripe: invalid account credentials: %w", err)
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_test_")
}
