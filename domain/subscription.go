package domain

import "time"

// SubscriptionStatus mirrors the remote provider's subscription status.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the local mirror of a remote subscription. IdentifiedBy is
// the application-chosen identifier, unique per owner, that makes creation
// idempotent. EndsAt is set locally when a cancellation is scheduled or
// executed and drives the grace period logic.
type Subscription struct {
	ID                      int64
	IdentifiedBy            string
	Owner                   OwnerRef
	CustomerID              string // remote customer id (cus_...)
	SubscriptionID          string // remote subscription id (sub_...)
	Status                  SubscriptionStatus
	TrialEndsAt             *time.Time
	EndsAt                  *time.Time
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	WillBeCanceled          bool
	KeepProductsActiveUntil *time.Time
	Metadata                map[string]string
	ServiceIntegrationID    int64
	Items                   []SubscriptionItem
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SubscriptionItem is the local mirror of one remote subscription item,
// keyed by the remote item id. ProductID links back to the local product
// row when the item metadata allows it, 0 otherwise.
type SubscriptionItem struct {
	ID             int64
	SubscriptionID int64
	ItemID         string // remote item id (si_...)
	PriceID        string // remote price id (price_...)
	Quantity       int64
	ProductID      int64
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OnTrial reports whether the subscription is within its trial window.
func (s *Subscription) OnTrial() bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(time.Now())
}

// HasExpiredTrial reports whether the subscription had a trial that is over.
func (s *Subscription) HasExpiredTrial() bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.Before(time.Now())
}

// Canceled reports whether a cancellation has been scheduled or executed.
func (s *Subscription) Canceled() bool {
	return s.EndsAt != nil
}

// OnGracePeriod reports whether a scheduled cancellation has not taken
// effect yet. A subscription whose EndsAt is in the past is no longer on
// its grace period.
func (s *Subscription) OnGracePeriod() bool {
	return s.EndsAt != nil && s.EndsAt.After(time.Now())
}

// Ended reports whether the subscription is canceled and past its grace
// period.
func (s *Subscription) Ended() bool {
	return s.Canceled() && !s.OnGracePeriod()
}

// Active reports whether the subscription is usable: not ended and not in a
// payment-blocked status.
func (s *Subscription) Active() bool {
	if s.Ended() {
		return false
	}
	switch s.Status {
	case SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid:
		return false
	}
	return true
}

// Valid reports whether the owner should retain entitlements: active,
// trialing, or still within the grace period.
func (s *Subscription) Valid() bool {
	return s.Active() || s.OnTrial() || s.OnGracePeriod()
}

// Incomplete reports whether the initial payment has not completed.
func (s *Subscription) Incomplete() bool {
	return s.Status == SubscriptionStatusIncomplete
}

// PastDue reports whether a renewal payment has failed.
func (s *Subscription) PastDue() bool {
	return s.Status == SubscriptionStatusPastDue
}

// HasIncompletePayment reports whether the subscription is waiting on a
// payment, either the initial one or a failed renewal.
func (s *Subscription) HasIncompletePayment() bool {
	return s.PastDue() || s.Incomplete()
}
