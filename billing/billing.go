package billing

import (
	"context"
	"time"
)

// Provider defines the interface for a single payment account. Instances are
// bound to one account's credentials; the Factory constructs one per
// resolved service integration.
type Provider interface {
	// CreateCustomer creates a customer record in the billing provider.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomer retrieves an existing customer.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// UpdateCustomer updates customer information on the remote side only.
	UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error)

	// CreateSetupIntent starts a payment method collection flow for a customer.
	CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error)

	// ListPaymentMethods returns the customer's attached payment methods.
	// Returns an empty slice, never nil, when the customer has none.
	ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error)

	// GetPaymentMethod retrieves a payment method by id.
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethod, error)

	// AttachPaymentMethod attaches a payment method to a customer.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error)

	// DetachPaymentMethod detaches a payment method from its customer.
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	// SetDefaultPaymentMethod sets the customer's invoice default.
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*Customer, error)

	// GetDefaultPaymentMethod returns the customer's default payment method:
	// the invoice settings default first, the legacy default source as a
	// fallback. Returns nil, nil when the customer has neither.
	GetDefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error)

	// CreatePaymentIntent creates a payment intent for one-time charges.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// GetPaymentIntent retrieves an existing payment intent.
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// ConfirmPaymentIntent confirms a payment intent that requires confirmation.
	ConfirmPaymentIntent(ctx context.Context, paymentIntentID string, params ConfirmPaymentIntentParams) (*PaymentIntent, error)

	// RefundPayment refunds a completed payment, fully or partially.
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)

	// CreateProduct creates a billing provider product, optionally with a
	// default price.
	CreateProduct(ctx context.Context, params CreateProductParams) (*Product, error)

	// UpdateProduct updates a billing provider product.
	UpdateProduct(ctx context.Context, productID string, params UpdateProductParams) (*Product, error)

	// GetProduct retrieves a billing provider product.
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// CreateSubscription creates a recurring subscription. The result carries
	// the latest invoice's payment intent when the provider exposes one, so
	// callers can run payment failure handling.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// GetSubscription retrieves an existing subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// UpdateSubscription updates cancellation, trial and payment settings.
	UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error)

	// CancelSubscription cancels a subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID string, params CancelSubscriptionParams) (*Subscription, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email       string
	Name        string
	Phone       string
	Description string
	Metadata    map[string]string
}

// UpdateCustomerParams contains parameters for updating a customer.
// Zero-valued fields are left untouched.
type UpdateCustomerParams struct {
	Email       string
	Name        string
	Phone       string
	Description string
	Metadata    map[string]string
}

// Customer represents a billing customer.
type Customer struct {
	ID                     string
	Email                  string
	Name                   string
	Phone                  string
	Description            string
	DefaultPaymentMethodID string // invoice settings default (pm_...)
	DefaultSourceID        string // legacy default source (card_... / src_...)
	Metadata               map[string]string
	CreatedAt              time.Time
}

// CreateSetupIntentParams contains parameters for starting a payment method
// collection flow.
type CreateSetupIntentParams struct {
	CustomerID string

	// PaymentMethodTypes defaults to card when empty.
	PaymentMethodTypes []string

	// Usage: "off_session" (default) or "on_session".
	Usage string

	Metadata map[string]string
}

// SetupIntent represents a payment method collection session.
type SetupIntent struct {
	ID           string
	ClientSecret string
	Status       string
	CustomerID   string
	CreatedAt    time.Time
}

// PaymentMethod represents an attached payment method.
type PaymentMethod struct {
	ID         string
	Type       string // "card", etc.
	CustomerID string
	Card       *CardDetails
	CreatedAt  time.Time
}

// CardDetails describes a card payment method.
type CardDetails struct {
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// Payment intent statuses the failure handler inspects.
const (
	PaymentIntentStatusRequiresPaymentMethod = "requires_payment_method"
	PaymentIntentStatusRequiresConfirmation  = "requires_confirmation"
	PaymentIntentStatusRequiresAction        = "requires_action"
	PaymentIntentStatusProcessing            = "processing"
	PaymentIntentStatusSucceeded             = "succeeded"
	PaymentIntentStatusCanceled              = "canceled"
)

// CreatePaymentIntentParams contains parameters for creating a payment intent.
type CreatePaymentIntentParams struct {
	// AmountCents is the amount in the smallest currency unit.
	AmountCents int64

	// Currency code (ISO 4217 lowercase), e.g. "mxn", "usd".
	Currency string

	// CustomerID links the payment to an existing customer.
	CustomerID string

	// PaymentMethodID charges a specific payment method. Mutually exclusive
	// with AutomaticPaymentMethods.
	PaymentMethodID string

	// AutomaticPaymentMethods lets the provider choose eligible payment
	// method types. Mutually exclusive with PaymentMethodTypes.
	AutomaticPaymentMethods bool

	// PaymentMethodTypes restricts the eligible types, e.g. ["card"].
	PaymentMethodTypes []string

	// Confirm attempts the charge immediately.
	Confirm bool

	// OffSession marks the charge as merchant-initiated.
	OffSession bool

	// ConfirmationMethod: "automatic" (default) or "manual".
	ConfirmationMethod string

	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// ConfirmPaymentIntentParams contains parameters for confirming a payment
// intent.
type ConfirmPaymentIntentParams struct {
	// PaymentMethodID overrides the payment method at confirmation time.
	PaymentMethodID string
}

// PaymentIntent represents a payment intent.
type PaymentIntent struct {
	ID              string
	ClientSecret    string
	AmountCents     int64
	Currency        string
	Status          string
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
	CreatedAt       time.Time

	// LastPaymentError contains details if the last payment attempt failed.
	LastPaymentError *PaymentError
}

// PaymentError contains details about a failed payment attempt.
type PaymentError struct {
	Code        string // provider error code
	Message     string // human-readable message
	DeclineCode string // reason the card was declined (if applicable)
}

// RefundParams contains parameters for creating a refund.
type RefundParams struct {
	PaymentIntentID string
	AmountCents     int64  // 0 refunds the full amount
	Reason          string // "duplicate", "fraudulent", "requested_by_customer"
	Metadata        map[string]string
}

// Refund represents a payment refund.
type Refund struct {
	ID              string
	PaymentIntentID string
	AmountCents     int64
	Status          string // succeeded, pending, failed
	CreatedAt       time.Time
}

// PriceRecurring describes the billing cadence of a recurring price.
type PriceRecurring struct {
	Interval      string // "day", "week", "month", "year"
	IntervalCount int64
}

// DefaultPriceData describes the default price created alongside a product.
type DefaultPriceData struct {
	Currency        string
	UnitAmountCents int64
	Recurring       *PriceRecurring // nil for one-time prices
}

// PackageDimensions describes a shippable product's dimensions.
type PackageDimensions struct {
	Height float64
	Length float64
	Weight float64
	Width  float64
}

// CreateProductParams contains parameters for creating a product.
type CreateProductParams struct {
	Name        string
	Description string
	Active      bool
	Images      []string // the provider caps these at 8
	UnitLabel   string
	URL         string
	Shippable   *bool
	Dimensions  *PackageDimensions
	Price       *DefaultPriceData
	Metadata    map[string]string
}

// UpdateProductParams contains parameters for updating a product.
// Nil pointer fields are left untouched.
type UpdateProductParams struct {
	Name           *string
	Description    *string
	Active         *bool
	UnitLabel      *string
	URL            *string
	DefaultPriceID *string
	Metadata       map[string]string
}

// Product represents a billing provider product.
type Product struct {
	ID                string
	Name              string
	Description       string
	Active            bool
	UnitLabel         string
	URL               string
	DefaultPriceID    string
	DefaultPriceCents int64
	Metadata          map[string]string
	CreatedAt         time.Time
}

// SubscriptionItemParams describes one line of a new subscription.
type SubscriptionItemParams struct {
	PriceID  string
	Quantity int64
	Metadata map[string]string
}

// CreateSubscriptionParams contains parameters for creating a subscription.
type CreateSubscriptionParams struct {
	CustomerID  string
	Description string
	Currency    string
	Items       []SubscriptionItemParams
	Metadata    map[string]string

	// TrialEndsAt schedules the trial end. TrialNow ends any trial
	// immediately; it wins over TrialEndsAt.
	TrialEndsAt *time.Time
	TrialNow    bool

	// BillingCycleAnchor shifts the first full invoice to a fixed date.
	BillingCycleAnchor *time.Time

	// CancelAt schedules a future cancellation at creation time.
	CancelAt *time.Time

	OffSession        bool
	PaymentBehavior   string
	ProrationBehavior string
	IdempotencyKey    string
}

// UpdateSubscriptionParams contains parameters for updating a subscription.
// Nil pointer fields are left untouched.
type UpdateSubscriptionParams struct {
	CancelAtPeriodEnd      *bool
	CancelAt               *time.Time
	TrialEndsAt            *time.Time
	TrialNow               bool
	ProrationBehavior      string
	DefaultPaymentMethodID string
}

// CancelSubscriptionParams contains parameters for an immediate cancel.
type CancelSubscriptionParams struct {
	// Prorate credits unused time on the final invoice.
	Prorate bool

	// InvoiceNow generates the final invoice immediately.
	InvoiceNow bool
}

// SubscriptionItem represents a line item in a subscription.
type SubscriptionItem struct {
	ID                 string
	PriceID            string
	ProductID          string // remote product id the price belongs to
	Quantity           int64
	Metadata           map[string]string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// Subscription represents a recurring subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	Items              []SubscriptionItem
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEndsAt        *time.Time
	CancelAt           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
	LatestInvoiceID    string
	CreatedAt          time.Time

	// PaymentIntent is the latest invoice's payment intent when the
	// provider returned one. Used for payment failure handling.
	PaymentIntent *PaymentIntent
}
