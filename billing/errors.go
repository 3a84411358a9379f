package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey is returned when the account's secret key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrCustomerNotFound is returned when a customer does not exist remotely.
	ErrCustomerNotFound = errors.New("billing: customer not found")

	// ErrPaymentIntentNotFound is returned when a payment intent does not exist.
	ErrPaymentIntentNotFound = errors.New("billing: payment intent not found")

	// ErrPaymentMethodNotFound is returned when a payment method does not exist
	// or is not attached to the expected customer.
	ErrPaymentMethodNotFound = errors.New("billing: payment method not found")

	// ErrProductNotFound is returned when a product does not exist remotely.
	ErrProductNotFound = errors.New("billing: product not found")

	// ErrSubscriptionNotFound is returned when a subscription does not exist.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrPaymentFailed is returned when a payment fails (card declined, etc.)
	ErrPaymentFailed = errors.New("billing: payment failed")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "card_declined")
	DeclineCode   string // Card decline reason (if applicable)
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if error is due to card decline.
func (e *StripeError) IsDeclined() bool {
	return e.Code == "card_declined" || e.DeclineCode != ""
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error"
}

// IncompletePaymentError signals that a payment intent still needs customer
// interaction after a create or confirm attempt. The intent is attached so
// callers can hand its client secret to the frontend.
type IncompletePaymentError struct {
	Intent *PaymentIntent
}

func (e *IncompletePaymentError) Error() string {
	return fmt.Sprintf("billing: payment incomplete, intent %s is %s", e.Intent.ID, e.Intent.Status)
}

// RequiresAction reports whether the customer must complete an
// authentication step (for example 3D Secure).
func (e *IncompletePaymentError) RequiresAction() bool {
	return e.Intent.Status == PaymentIntentStatusRequiresAction
}

// RequiresPaymentMethod reports whether a new payment method is needed.
func (e *IncompletePaymentError) RequiresPaymentMethod() bool {
	return e.Intent.Status == PaymentIntentStatusRequiresPaymentMethod
}
