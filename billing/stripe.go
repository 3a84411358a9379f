package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// StripeProvider implements Provider against one Stripe account. Each
// instance owns a client initialized with that account's secret key, so
// several providers with different credentials coexist in one process.
type StripeProvider struct {
	sc  *stripe.Client
	cfg StripeConfig
}

// NewStripeProvider creates a Stripe billing provider for one account.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StripeProvider{
		sc:  stripe.NewClient(cfg.SecretKey),
		cfg: cfg,
	}, nil
}

// Compile-time check that StripeProvider implements Provider.
var _ Provider = (*StripeProvider)(nil)

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	p := &stripe.CustomerCreateParams{
		Metadata: params.Metadata,
	}
	if params.Email != "" {
		p.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		p.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		p.Phone = stripe.String(params.Phone)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}

	cust, err := s.sc.V1Customers.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapStripeCustomer(cust), nil
}

// GetCustomer retrieves a Stripe customer.
func (s *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	cust, err := s.sc.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, wrapStripeError(err)
	}
	if cust.Deleted {
		return nil, ErrCustomerNotFound
	}
	return mapStripeCustomer(cust), nil
}

// UpdateCustomer updates a Stripe customer. Only non-zero fields are sent.
func (s *StripeProvider) UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error) {
	p := &stripe.CustomerUpdateParams{
		Metadata: params.Metadata,
	}
	if params.Email != "" {
		p.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		p.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		p.Phone = stripe.String(params.Phone)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}

	cust, err := s.sc.V1Customers.Update(ctx, customerID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripeCustomer(cust), nil
}

// CreateSetupIntent starts a payment method collection flow.
func (s *StripeProvider) CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error) {
	types := params.PaymentMethodTypes
	if len(types) == 0 {
		types = []string{"card"}
	}
	usage := params.Usage
	if usage == "" {
		usage = "off_session"
	}

	p := &stripe.SetupIntentCreateParams{
		Customer:           stripe.String(params.CustomerID),
		PaymentMethodTypes: stripe.StringSlice(types),
		Usage:              stripe.String(usage),
		Metadata:           params.Metadata,
	}

	si, err := s.sc.V1SetupIntents.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	out := &SetupIntent{
		ID:           si.ID,
		ClientSecret: si.ClientSecret,
		Status:       string(si.Status),
		CreatedAt:    time.Unix(si.Created, 0),
	}
	if si.Customer != nil {
		out.CustomerID = si.Customer.ID
	}
	return out, nil
}

// ListPaymentMethods returns the customer's card payment methods.
func (s *StripeProvider) ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error) {
	p := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}

	methods := make([]*PaymentMethod, 0)
	var iterErr error
	s.sc.V1PaymentMethods.List(ctx, p)(func(pm *stripe.PaymentMethod, err error) bool {
		if err != nil {
			iterErr = wrapStripeError(err)
			return false
		}
		methods = append(methods, mapStripePaymentMethod(pm))
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return methods, nil
}

// GetPaymentMethod retrieves a payment method by id.
func (s *StripeProvider) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethod, error) {
	pm, err := s.sc.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrPaymentMethodNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripePaymentMethod(pm), nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (s *StripeProvider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error) {
	pm, err := s.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	})
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrPaymentMethodNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripePaymentMethod(pm), nil
}

// DetachPaymentMethod detaches a payment method from its customer.
func (s *StripeProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := s.sc.V1PaymentMethods.Detach(ctx, paymentMethodID, nil)
	if err != nil {
		if isStripeMissing(err) {
			return ErrPaymentMethodNotFound
		}
		return wrapStripeError(err)
	}
	return nil
}

// SetDefaultPaymentMethod sets the customer's invoice default.
func (s *StripeProvider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*Customer, error) {
	cust, err := s.sc.V1Customers.Update(ctx, customerID, &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	})
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripeCustomer(cust), nil
}

// GetDefaultPaymentMethod returns the invoice settings default, falling back
// to the legacy default source. Returns nil, nil when the customer has
// neither.
func (s *StripeProvider) GetDefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error) {
	p := &stripe.CustomerRetrieveParams{}
	p.AddExpand("invoice_settings.default_payment_method")
	p.AddExpand("default_source")

	cust, err := s.sc.V1Customers.Retrieve(ctx, customerID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, wrapStripeError(err)
	}

	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		return mapStripePaymentMethod(cust.InvoiceSettings.DefaultPaymentMethod), nil
	}
	if cust.DefaultSource != nil {
		// Legacy sources predate payment methods; surface the linkage only.
		return &PaymentMethod{
			ID:         cust.DefaultSource.ID,
			Type:       "card",
			CustomerID: cust.ID,
		}, nil
	}
	return nil, nil
}

// CreatePaymentIntent creates a Stripe payment intent.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
		Metadata: params.Metadata,
	}
	if params.CustomerID != "" {
		p.Customer = stripe.String(params.CustomerID)
	}
	if params.PaymentMethodID != "" {
		p.PaymentMethod = stripe.String(params.PaymentMethodID)
	}
	if params.AutomaticPaymentMethods {
		p.AutomaticPaymentMethods = &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	} else if len(params.PaymentMethodTypes) > 0 {
		p.PaymentMethodTypes = stripe.StringSlice(params.PaymentMethodTypes)
	}
	if params.Confirm {
		p.Confirm = stripe.Bool(true)
	}
	if params.OffSession {
		p.OffSession = stripe.Bool(true)
	}
	if params.ConfirmationMethod != "" {
		p.ConfirmationMethod = stripe.String(params.ConfirmationMethod)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	if params.ReceiptEmail != "" {
		p.ReceiptEmail = stripe.String(params.ReceiptEmail)
	}
	if params.IdempotencyKey != "" {
		p.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	pi, err := s.sc.V1PaymentIntents.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapStripePaymentIntent(pi), nil
}

// GetPaymentIntent retrieves a Stripe payment intent.
func (s *StripeProvider) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	pi, err := s.sc.V1PaymentIntents.Retrieve(ctx, paymentIntentID, nil)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripePaymentIntent(pi), nil
}

// ConfirmPaymentIntent confirms a payment intent.
func (s *StripeProvider) ConfirmPaymentIntent(ctx context.Context, paymentIntentID string, params ConfirmPaymentIntentParams) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentConfirmParams{}
	if params.PaymentMethodID != "" {
		p.PaymentMethod = stripe.String(params.PaymentMethodID)
	}

	pi, err := s.sc.V1PaymentIntents.Confirm(ctx, paymentIntentID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripePaymentIntent(pi), nil
}

// RefundPayment refunds a Stripe payment.
func (s *StripeProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	p := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(params.PaymentIntentID),
		Metadata:      params.Metadata,
	}
	if params.AmountCents > 0 {
		p.Amount = stripe.Int64(params.AmountCents)
	}
	if params.Reason != "" {
		p.Reason = stripe.String(params.Reason)
	}

	ref, err := s.sc.V1Refunds.Create(ctx, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, wrapStripeError(err)
	}

	out := &Refund{
		ID:          ref.ID,
		AmountCents: ref.Amount,
		Status:      string(ref.Status),
		CreatedAt:   time.Unix(ref.Created, 0),
	}
	if ref.PaymentIntent != nil {
		out.PaymentIntentID = ref.PaymentIntent.ID
	}
	return out, nil
}

// CreateProduct creates a Stripe product, optionally with a default price.
func (s *StripeProvider) CreateProduct(ctx context.Context, params CreateProductParams) (*Product, error) {
	p := &stripe.ProductCreateParams{
		Name:     stripe.String(params.Name),
		Active:   stripe.Bool(params.Active),
		Metadata: params.Metadata,
	}
	p.AddExpand("default_price")

	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	if params.UnitLabel != "" {
		p.UnitLabel = stripe.String(params.UnitLabel)
	}
	if params.URL != "" {
		p.URL = stripe.String(params.URL)
	}
	if params.Shippable != nil {
		p.Shippable = stripe.Bool(*params.Shippable)
	}
	if len(params.Images) > 0 {
		images := params.Images
		if len(images) > 8 {
			images = images[:8]
		}
		p.Images = stripe.StringSlice(images)
	}
	if params.Dimensions != nil {
		p.PackageDimensions = &stripe.ProductCreatePackageDimensionsParams{
			Height: stripe.Float64(params.Dimensions.Height),
			Length: stripe.Float64(params.Dimensions.Length),
			Weight: stripe.Float64(params.Dimensions.Weight),
			Width:  stripe.Float64(params.Dimensions.Width),
		}
	}
	if params.Price != nil {
		priceData := &stripe.ProductCreateDefaultPriceDataParams{
			Currency:   stripe.String(params.Price.Currency),
			UnitAmount: stripe.Int64(params.Price.UnitAmountCents),
		}
		if params.Price.Recurring != nil {
			priceData.Recurring = &stripe.ProductCreateDefaultPriceDataRecurringParams{
				Interval: stripe.String(params.Price.Recurring.Interval),
			}
			if params.Price.Recurring.IntervalCount > 0 {
				priceData.Recurring.IntervalCount = stripe.Int64(params.Price.Recurring.IntervalCount)
			}
		}
		p.DefaultPriceData = priceData
	}

	prod, err := s.sc.V1Products.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapStripeProduct(prod), nil
}

// UpdateProduct updates a Stripe product.
func (s *StripeProvider) UpdateProduct(ctx context.Context, productID string, params UpdateProductParams) (*Product, error) {
	p := &stripe.ProductUpdateParams{
		Metadata: params.Metadata,
	}
	p.AddExpand("default_price")

	if params.Name != nil {
		p.Name = stripe.String(*params.Name)
	}
	if params.Description != nil {
		p.Description = stripe.String(*params.Description)
	}
	if params.Active != nil {
		p.Active = stripe.Bool(*params.Active)
	}
	if params.UnitLabel != nil {
		p.UnitLabel = stripe.String(*params.UnitLabel)
	}
	if params.URL != nil {
		p.URL = stripe.String(*params.URL)
	}
	if params.DefaultPriceID != nil {
		p.DefaultPrice = stripe.String(*params.DefaultPriceID)
	}

	prod, err := s.sc.V1Products.Update(ctx, productID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrProductNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripeProduct(prod), nil
}

// GetProduct retrieves a Stripe product.
func (s *StripeProvider) GetProduct(ctx context.Context, productID string) (*Product, error) {
	p := &stripe.ProductRetrieveParams{}
	p.AddExpand("default_price")

	prod, err := s.sc.V1Products.Retrieve(ctx, productID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrProductNotFound
		}
		return nil, wrapStripeError(err)
	}
	return mapStripeProduct(prod), nil
}

// CreateSubscription creates a Stripe subscription and resolves the latest
// invoice's payment intent so callers can run failure handling.
func (s *StripeProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	p := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Metadata: params.Metadata,
	}
	p.AddExpand("latest_invoice.payments")

	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	if params.Currency != "" {
		p.Currency = stripe.String(params.Currency)
	}
	for _, item := range params.Items {
		itemParams := &stripe.SubscriptionCreateItemParams{
			Price:    stripe.String(item.PriceID),
			Metadata: item.Metadata,
		}
		if item.Quantity > 0 {
			itemParams.Quantity = stripe.Int64(item.Quantity)
		}
		p.Items = append(p.Items, itemParams)
	}
	if params.TrialNow {
		p.TrialEndNow = stripe.Bool(true)
	} else if params.TrialEndsAt != nil {
		p.TrialEnd = stripe.Int64(params.TrialEndsAt.Unix())
	}
	if params.BillingCycleAnchor != nil {
		p.BillingCycleAnchor = stripe.Int64(params.BillingCycleAnchor.Unix())
	}
	if params.CancelAt != nil {
		p.CancelAt = stripe.Int64(params.CancelAt.Unix())
	}
	if params.OffSession {
		p.OffSession = stripe.Bool(true)
	}
	if params.PaymentBehavior != "" {
		p.PaymentBehavior = stripe.String(params.PaymentBehavior)
	}
	if params.ProrationBehavior != "" {
		p.ProrationBehavior = stripe.String(params.ProrationBehavior)
	}
	if params.IdempotencyKey != "" {
		p.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	sub, err := s.sc.V1Subscriptions.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return s.mapStripeSubscription(ctx, sub), nil
}

// GetSubscription retrieves a Stripe subscription.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	p := &stripe.SubscriptionRetrieveParams{}
	p.AddExpand("latest_invoice.payments")

	sub, err := s.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrapStripeError(err)
	}
	return s.mapStripeSubscription(ctx, sub), nil
}

// UpdateSubscription updates cancellation, trial and payment settings.
func (s *StripeProvider) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
	p := &stripe.SubscriptionUpdateParams{}
	p.AddExpand("latest_invoice.payments")

	if params.CancelAtPeriodEnd != nil {
		p.CancelAtPeriodEnd = stripe.Bool(*params.CancelAtPeriodEnd)
	}
	if params.CancelAt != nil {
		p.CancelAt = stripe.Int64(params.CancelAt.Unix())
	}
	if params.TrialNow {
		p.TrialEndNow = stripe.Bool(true)
	} else if params.TrialEndsAt != nil {
		p.TrialEnd = stripe.Int64(params.TrialEndsAt.Unix())
	}
	if params.ProrationBehavior != "" {
		p.ProrationBehavior = stripe.String(params.ProrationBehavior)
	}
	if params.DefaultPaymentMethodID != "" {
		p.DefaultPaymentMethod = stripe.String(params.DefaultPaymentMethodID)
	}

	sub, err := s.sc.V1Subscriptions.Update(ctx, subscriptionID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrapStripeError(err)
	}
	return s.mapStripeSubscription(ctx, sub), nil
}

// CancelSubscription cancels a Stripe subscription immediately.
func (s *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, params CancelSubscriptionParams) (*Subscription, error) {
	p := &stripe.SubscriptionCancelParams{}
	if params.Prorate {
		p.Prorate = stripe.Bool(true)
	}
	if params.InvoiceNow {
		p.InvoiceNow = stripe.Bool(true)
	}

	sub, err := s.sc.V1Subscriptions.Cancel(ctx, subscriptionID, p)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrapStripeError(err)
	}
	return s.mapStripeSubscription(ctx, sub), nil
}

// =============================================================================
// Mapping helpers
// =============================================================================

func mapStripeCustomer(c *stripe.Customer) *Customer {
	out := &Customer{
		ID:          c.ID,
		Email:       c.Email,
		Name:        c.Name,
		Phone:       c.Phone,
		Description: c.Description,
		Metadata:    c.Metadata,
		CreatedAt:   time.Unix(c.Created, 0),
	}
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethodID = c.InvoiceSettings.DefaultPaymentMethod.ID
	}
	if c.DefaultSource != nil {
		out.DefaultSourceID = c.DefaultSource.ID
	}
	return out
}

func mapStripePaymentMethod(pm *stripe.PaymentMethod) *PaymentMethod {
	out := &PaymentMethod{
		ID:        pm.ID,
		Type:      string(pm.Type),
		CreatedAt: time.Unix(pm.Created, 0),
	}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if pm.Card != nil {
		out.Card = &CardDetails{
			Brand:    string(pm.Card.Brand),
			Last4:    pm.Card.Last4,
			ExpMonth: pm.Card.ExpMonth,
			ExpYear:  pm.Card.ExpYear,
		}
	}
	return out
}

func mapStripePaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Description:  pi.Description,
		Metadata:     pi.Metadata,
		CreatedAt:    time.Unix(pi.Created, 0),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = &PaymentError{
			Code:        string(pi.LastPaymentError.Code),
			Message:     pi.LastPaymentError.Msg,
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
		}
	}
	return out
}

func mapStripeProduct(p *stripe.Product) *Product {
	out := &Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		UnitLabel:   p.UnitLabel,
		URL:         p.URL,
		Metadata:    p.Metadata,
		CreatedAt:   time.Unix(p.Created, 0),
	}
	if p.DefaultPrice != nil {
		out.DefaultPriceID = p.DefaultPrice.ID
		out.DefaultPriceCents = p.DefaultPrice.UnitAmount
	}
	return out
}

// mapStripeSubscription converts the SDK object and resolves the latest
// invoice's payment intent when one exists. The billing period is derived
// from the items, which carry it per line.
func (s *StripeProvider) mapStripeSubscription(ctx context.Context, sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		CreatedAt:         time.Unix(sub.Created, 0),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		out.TrialEndsAt = &t
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0)
		out.CancelAt = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		out.CanceledAt = &t
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			mapped := SubscriptionItem{
				ID:                 item.ID,
				Quantity:           item.Quantity,
				Metadata:           item.Metadata,
				CurrentPeriodStart: time.Unix(item.CurrentPeriodStart, 0),
				CurrentPeriodEnd:   time.Unix(item.CurrentPeriodEnd, 0),
			}
			if item.Price != nil {
				mapped.PriceID = item.Price.ID
				if item.Price.Product != nil {
					mapped.ProductID = item.Price.Product.ID
				}
			}
			out.Items = append(out.Items, mapped)

			// Subscription-level period: earliest start, latest end.
			if item.CurrentPeriodStart > 0 &&
				(out.CurrentPeriodStart.IsZero() || mapped.CurrentPeriodStart.Before(out.CurrentPeriodStart)) {
				out.CurrentPeriodStart = mapped.CurrentPeriodStart
			}
			if item.CurrentPeriodEnd > 0 && mapped.CurrentPeriodEnd.After(out.CurrentPeriodEnd) {
				out.CurrentPeriodEnd = mapped.CurrentPeriodEnd
			}
		}
	}

	if sub.LatestInvoice != nil {
		out.LatestInvoiceID = sub.LatestInvoice.ID
		out.PaymentIntent = s.latestInvoiceIntent(ctx, sub.LatestInvoice)
	}
	return out
}

// latestInvoiceIntent pulls the payment intent off an expanded invoice's
// payments. Best effort: a subscription result without an intent is still
// usable, the failure handler just has nothing to check.
func (s *StripeProvider) latestInvoiceIntent(ctx context.Context, inv *stripe.Invoice) *PaymentIntent {
	if inv.Payments == nil {
		return nil
	}
	for _, payment := range inv.Payments.Data {
		if payment.Payment == nil || payment.Payment.PaymentIntent == nil {
			continue
		}
		pi, err := s.sc.V1PaymentIntents.Retrieve(ctx, payment.Payment.PaymentIntent.ID, nil)
		if err != nil {
			return nil
		}
		return mapStripePaymentIntent(pi)
	}
	return nil
}

// =============================================================================
// Error helpers
// =============================================================================

// wrapStripeError converts an SDK error into a StripeError, keeping code,
// decline code and request id for callers and logs.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &StripeError{
			Message:       sErr.Msg,
			Code:          string(sErr.Code),
			DeclineCode:   string(sErr.DeclineCode),
			HTTPStatus:    sErr.HTTPStatusCode,
			RequestID:     sErr.RequestID,
			OriginalError: err,
		}
	}
	return err
}

// isStripeMissing reports whether the error is the provider's "no such
// resource" response.
func isStripeMissing(err error) bool {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.Code == stripe.ErrorCodeResourceMissing || sErr.HTTPStatusCode == 404
	}
	return false
}
