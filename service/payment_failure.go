package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/telemetry"
)

// PaymentFailureHandler inspects the payment intent attached to a
// subscription write and decides whether the operation completed, needs
// customer interaction, or can be pushed forward by confirming the intent
// server-side.
type PaymentFailureHandler struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

func NewPaymentFailureHandler(log zerolog.Logger, metrics *telemetry.Metrics) *PaymentFailureHandler {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &PaymentFailureHandler{log: log, metrics: metrics}
}

// Handle resolves the intent's status. A nil intent or a settled intent is a
// no-op. An intent waiting on confirmation is confirmed here, with
// paymentMethodID when one is given; a decline during that confirm is
// resolved by re-reading the intent rather than surfacing the raw API error,
// so the caller always sees the intent's real state. Intents that still need
// the customer come back as *billing.IncompletePaymentError.
func (h *PaymentFailureHandler) Handle(ctx context.Context, provider billing.Provider, integrationID int64, intent *billing.PaymentIntent, paymentMethodID string) error {
	if intent == nil {
		return nil
	}

	if intent.Status == billing.PaymentIntentStatusRequiresConfirmation {
		confirmed, err := provider.ConfirmPaymentIntent(ctx, intent.ID, billing.ConfirmPaymentIntentParams{
			PaymentMethodID: paymentMethodID,
		})
		if err != nil {
			var sErr *billing.StripeError
			if !errors.As(err, &sErr) || !sErr.IsDeclined() {
				return err
			}
			// The decline left the intent in a new state; read it back and
			// judge that state instead of the API error.
			h.log.Warn().
				Int64("integration_id", integrationID).
				Str("payment_intent_id", intent.ID).
				Str("decline_code", sErr.DeclineCode).
				Msg("confirmation declined, re-reading intent")
			confirmed, err = provider.GetPaymentIntent(ctx, intent.ID)
			if err != nil {
				return err
			}
		}
		intent = confirmed
	}

	switch intent.Status {
	case billing.PaymentIntentStatusSucceeded,
		billing.PaymentIntentStatusProcessing:
		return nil
	case billing.PaymentIntentStatusRequiresAction,
		billing.PaymentIntentStatusRequiresPaymentMethod,
		billing.PaymentIntentStatusRequiresConfirmation:
		h.metrics.IncompletePayments.WithLabelValues(integrationLabel(integrationID), intent.Status).Inc()
		return &billing.IncompletePaymentError{Intent: intent}
	default:
		return nil
	}
}
