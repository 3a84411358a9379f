package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is an in-memory billing provider for testing. It simulates
// successful flows without calling the Stripe API; individual methods can be
// overridden with Func fields to simulate failures.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreatePaymentIntentFunc allows customizing payment intent creation behavior
	CreatePaymentIntentFunc func(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// CreateProductFunc allows customizing product creation behavior
	CreateProductFunc func(ctx context.Context, params CreateProductParams) (*Product, error)

	// UpdateProductFunc allows customizing product update behavior
	UpdateProductFunc func(ctx context.Context, productID string, params UpdateProductParams) (*Product, error)

	// CreateSubscriptionFunc allows customizing subscription creation behavior
	CreateSubscriptionFunc func(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// UpdateSubscriptionFunc allows customizing subscription update behavior
	UpdateSubscriptionFunc func(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error)

	// CancelSubscriptionFunc allows customizing subscription cancel behavior
	CancelSubscriptionFunc func(ctx context.Context, subscriptionID string, params CancelSubscriptionParams) (*Subscription, error)

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	// PaymentMethods stores attached payment methods keyed by id
	PaymentMethods map[string]*PaymentMethod

	// PaymentIntents stores created payment intents for retrieval
	PaymentIntents map[string]*PaymentIntent

	// Products stores created products for retrieval
	Products map[string]*Product

	// Subscriptions stores created subscriptions for retrieval
	Subscriptions map[string]*Subscription

	// Refunds stores issued refunds keyed by id
	Refunds map[string]*Refund

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:      make(map[string]*Customer),
		PaymentMethods: make(map[string]*PaymentMethod),
		PaymentIntents: make(map[string]*PaymentIntent),
		Products:       make(map[string]*Product),
		Subscriptions:  make(map[string]*Subscription),
		Refunds:        make(map[string]*Refund),
		CallLog:        []string{},
	}
}

var _ Provider = (*MockProvider)(nil)

func mockID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	customer := &Customer{
		ID:          mockID("cus"),
		Email:       params.Email,
		Name:        params.Name,
		Phone:       params.Phone,
		Description: params.Description,
		Metadata:    params.Metadata,
		CreatedAt:   time.Now(),
	}
	m.Customers[customer.ID] = customer
	return customer, nil
}

// GetCustomer retrieves a mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomer(%s)", customerID))

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, ErrCustomerNotFound
	}
	return customer, nil
}

// UpdateCustomer updates a mock customer.
func (m *MockProvider) UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateCustomer(%s)", customerID))

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, ErrCustomerNotFound
	}
	if params.Email != "" {
		customer.Email = params.Email
	}
	if params.Name != "" {
		customer.Name = params.Name
	}
	if params.Phone != "" {
		customer.Phone = params.Phone
	}
	if params.Description != "" {
		customer.Description = params.Description
	}
	if params.Metadata != nil {
		customer.Metadata = params.Metadata
	}
	return customer, nil
}

// CreateSetupIntent creates a mock setup intent.
func (m *MockProvider) CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSetupIntent(%s)", params.CustomerID))

	if _, exists := m.Customers[params.CustomerID]; !exists {
		return nil, ErrCustomerNotFound
	}
	id := mockID("seti")
	return &SetupIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.New().String()[:8],
		Status:       "requires_payment_method",
		CustomerID:   params.CustomerID,
		CreatedAt:    time.Now(),
	}, nil
}

// ListPaymentMethods returns the customer's mock payment methods.
func (m *MockProvider) ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ListPaymentMethods(%s)", customerID))

	methods := make([]*PaymentMethod, 0)
	for _, pm := range m.PaymentMethods {
		if pm.CustomerID == customerID {
			methods = append(methods, pm)
		}
	}
	return methods, nil
}

// GetPaymentMethod retrieves a mock payment method.
func (m *MockProvider) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetPaymentMethod(%s)", paymentMethodID))

	pm, exists := m.PaymentMethods[paymentMethodID]
	if !exists {
		return nil, ErrPaymentMethodNotFound
	}
	return pm, nil
}

// AttachPaymentMethod attaches a mock payment method to a customer, creating
// it if the id is unknown.
func (m *MockProvider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AttachPaymentMethod(%s, %s)", paymentMethodID, customerID))

	if _, exists := m.Customers[customerID]; !exists {
		return nil, ErrCustomerNotFound
	}
	pm, exists := m.PaymentMethods[paymentMethodID]
	if !exists {
		pm = &PaymentMethod{
			ID:   paymentMethodID,
			Type: "card",
			Card: &CardDetails{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},

			CreatedAt: time.Now(),
		}
		m.PaymentMethods[paymentMethodID] = pm
	}
	pm.CustomerID = customerID
	return pm, nil
}

// DetachPaymentMethod detaches a mock payment method.
func (m *MockProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("DetachPaymentMethod(%s)", paymentMethodID))

	pm, exists := m.PaymentMethods[paymentMethodID]
	if !exists {
		return ErrPaymentMethodNotFound
	}
	if cust, ok := m.Customers[pm.CustomerID]; ok && cust.DefaultPaymentMethodID == paymentMethodID {
		cust.DefaultPaymentMethodID = ""
	}
	pm.CustomerID = ""
	delete(m.PaymentMethods, paymentMethodID)
	return nil
}

// SetDefaultPaymentMethod sets the mock customer's invoice default.
func (m *MockProvider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("SetDefaultPaymentMethod(%s, %s)", customerID, paymentMethodID))

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, ErrCustomerNotFound
	}
	if _, exists := m.PaymentMethods[paymentMethodID]; !exists {
		return nil, ErrPaymentMethodNotFound
	}
	customer.DefaultPaymentMethodID = paymentMethodID
	return customer, nil
}

// GetDefaultPaymentMethod returns the mock customer's default payment method.
func (m *MockProvider) GetDefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetDefaultPaymentMethod(%s)", customerID))

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, ErrCustomerNotFound
	}
	if customer.DefaultPaymentMethodID == "" {
		if customer.DefaultSourceID != "" {
			return &PaymentMethod{ID: customer.DefaultSourceID, Type: "card", CustomerID: customerID}, nil
		}
		return nil, nil
	}
	pm, exists := m.PaymentMethods[customer.DefaultPaymentMethodID]
	if !exists {
		return nil, ErrPaymentMethodNotFound
	}
	return pm, nil
}

// CreatePaymentIntent creates a mock payment intent. Confirmed intents with a
// payment method succeed immediately.
func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.AmountCents, params.Currency))

	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}

	id := mockID("pi")
	pi := &PaymentIntent{
		ID:              id,
		ClientSecret:    id + "_secret_" + uuid.New().String()[:8],
		AmountCents:     params.AmountCents,
		Currency:        params.Currency,
		Status:          PaymentIntentStatusRequiresPaymentMethod,
		CustomerID:      params.CustomerID,
		PaymentMethodID: params.PaymentMethodID,
		Description:     params.Description,
		Metadata:        params.Metadata,
		CreatedAt:       time.Now(),
	}
	if params.PaymentMethodID != "" {
		pi.Status = PaymentIntentStatusRequiresConfirmation
		if params.Confirm {
			pi.Status = PaymentIntentStatusSucceeded
		}
	}
	m.PaymentIntents[pi.ID] = pi
	return pi, nil
}

// GetPaymentIntent retrieves a mock payment intent.
func (m *MockProvider) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetPaymentIntent(%s)", paymentIntentID))

	pi, exists := m.PaymentIntents[paymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}
	return pi, nil
}

// ConfirmPaymentIntent confirms a mock payment intent.
func (m *MockProvider) ConfirmPaymentIntent(ctx context.Context, paymentIntentID string, params ConfirmPaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ConfirmPaymentIntent(%s)", paymentIntentID))

	pi, exists := m.PaymentIntents[paymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}
	if params.PaymentMethodID != "" {
		pi.PaymentMethodID = params.PaymentMethodID
	}
	pi.Status = PaymentIntentStatusSucceeded
	return pi, nil
}

// RefundPayment refunds a mock payment.
func (m *MockProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("RefundPayment(%s)", params.PaymentIntentID))

	pi, exists := m.PaymentIntents[params.PaymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}

	amount := params.AmountCents
	if amount == 0 {
		amount = pi.AmountCents
	}
	refund := &Refund{
		ID:              mockID("re"),
		PaymentIntentID: pi.ID,
		AmountCents:     amount,
		Status:          "succeeded",
		CreatedAt:       time.Now(),
	}
	m.Refunds[refund.ID] = refund
	return refund, nil
}

// CreateProduct creates a mock product.
func (m *MockProvider) CreateProduct(ctx context.Context, params CreateProductParams) (*Product, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateProduct(%s)", params.Name))

	if m.CreateProductFunc != nil {
		return m.CreateProductFunc(ctx, params)
	}

	product := &Product{
		ID:          mockID("prod"),
		Name:        params.Name,
		Description: params.Description,
		Active:      params.Active,
		UnitLabel:   params.UnitLabel,
		URL:         params.URL,
		Metadata:    params.Metadata,
		CreatedAt:   time.Now(),
	}
	if params.Price != nil {
		product.DefaultPriceID = mockID("price")
		product.DefaultPriceCents = params.Price.UnitAmountCents
	}
	m.Products[product.ID] = product
	return product, nil
}

// UpdateProduct updates a mock product.
func (m *MockProvider) UpdateProduct(ctx context.Context, productID string, params UpdateProductParams) (*Product, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateProduct(%s)", productID))

	if m.UpdateProductFunc != nil {
		return m.UpdateProductFunc(ctx, productID, params)
	}

	product, exists := m.Products[productID]
	if !exists {
		return nil, ErrProductNotFound
	}
	if params.Name != nil {
		product.Name = *params.Name
	}
	if params.Description != nil {
		product.Description = *params.Description
	}
	if params.Active != nil {
		product.Active = *params.Active
	}
	if params.UnitLabel != nil {
		product.UnitLabel = *params.UnitLabel
	}
	if params.URL != nil {
		product.URL = *params.URL
	}
	if params.DefaultPriceID != nil {
		product.DefaultPriceID = *params.DefaultPriceID
	}
	if params.Metadata != nil {
		product.Metadata = params.Metadata
	}
	return product, nil
}

// GetProduct retrieves a mock product.
func (m *MockProvider) GetProduct(ctx context.Context, productID string) (*Product, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetProduct(%s)", productID))

	product, exists := m.Products[productID]
	if !exists {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// CreateSubscription creates a mock subscription in active status with a
// month-long billing period.
func (m *MockProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSubscription(%s)", params.CustomerID))

	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, params)
	}
	if _, exists := m.Customers[params.CustomerID]; !exists {
		return nil, ErrCustomerNotFound
	}

	now := time.Now()
	sub := &Subscription{
		ID:                 mockID("sub"),
		CustomerID:         params.CustomerID,
		Status:             "active",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           params.Metadata,
		LatestInvoiceID:    mockID("in"),
		CreatedAt:          now,
	}
	if params.TrialEndsAt != nil && params.TrialEndsAt.After(now) {
		sub.Status = "trialing"
		sub.TrialEndsAt = params.TrialEndsAt
	}
	for _, item := range params.Items {
		sub.Items = append(sub.Items, SubscriptionItem{
			ID:                 mockID("si"),
			PriceID:            item.PriceID,
			Quantity:           item.Quantity,
			Metadata:           item.Metadata,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		})
	}
	m.Subscriptions[sub.ID] = sub
	return sub, nil
}

// GetSubscription retrieves a mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// UpdateSubscription updates a mock subscription.
func (m *MockProvider) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateSubscription(%s)", subscriptionID))

	if m.UpdateSubscriptionFunc != nil {
		return m.UpdateSubscriptionFunc(ctx, subscriptionID, params)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	if params.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
		if *params.CancelAtPeriodEnd {
			end := sub.CurrentPeriodEnd
			sub.CancelAt = &end
		} else {
			sub.CancelAt = nil
			sub.CanceledAt = nil
		}
	}
	if params.CancelAt != nil {
		sub.CancelAt = params.CancelAt
	}
	if params.TrialNow {
		now := time.Now()
		sub.TrialEndsAt = &now
		if sub.Status == "trialing" {
			sub.Status = "active"
		}
	} else if params.TrialEndsAt != nil {
		sub.TrialEndsAt = params.TrialEndsAt
		if params.TrialEndsAt.After(time.Now()) {
			sub.Status = "trialing"
		}
	}
	return sub, nil
}

// CancelSubscription cancels a mock subscription immediately.
func (m *MockProvider) CancelSubscription(ctx context.Context, subscriptionID string, params CancelSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelSubscription(%s)", subscriptionID))

	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, subscriptionID, params)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	now := time.Now()
	sub.Status = "canceled"
	sub.CanceledAt = &now
	return sub, nil
}

// SimulateIncompleteSubscription marks a subscription incomplete with a
// payment intent that requires action. Used in tests to exercise payment
// failure handling.
func (m *MockProvider) SimulateIncompleteSubscription(subscriptionID, intentStatus string) error {
	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return ErrSubscriptionNotFound
	}

	id := mockID("pi")
	pi := &PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.New().String()[:8],
		Status:       intentStatus,
		CustomerID:   sub.CustomerID,
		CreatedAt:    time.Now(),
	}
	m.PaymentIntents[pi.ID] = pi

	sub.Status = "incomplete"
	sub.PaymentIntent = pi
	return nil
}

// SimulateFailedPayment moves a payment intent back to requires_payment_method
// with a card error attached.
func (m *MockProvider) SimulateFailedPayment(paymentIntentID, errorCode, errorMessage string) error {
	pi, exists := m.PaymentIntents[paymentIntentID]
	if !exists {
		return ErrPaymentIntentNotFound
	}

	pi.Status = PaymentIntentStatusRequiresPaymentMethod
	pi.LastPaymentError = &PaymentError{
		Code:    errorCode,
		Message: errorMessage,
	}
	return nil
}
