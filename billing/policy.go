package billing

// Payment behaviors accepted by subscription creation.
const (
	PaymentBehaviorDefaultIncomplete = "default_incomplete"
	PaymentBehaviorAllowIncomplete   = "allow_incomplete"
	PaymentBehaviorErrorIfIncomplete = "error_if_incomplete"
)

// Proration behaviors accepted by subscription mutations.
const (
	ProrationBehaviorCreateProrations = "create_prorations"
	ProrationBehaviorAlwaysInvoice    = "always_invoice"
	ProrationBehaviorNone             = "none"
)

// Policy bundles the behavior parameters sent with subscription writes.
// Applications tune these without touching the builder or lifecycle code.
type Policy struct {
	PaymentBehavior   string
	ProrationBehavior string
}

// DefaultPolicy returns the behaviors the original billing flows assume:
// charge errors surface as incomplete subscriptions, and mid-cycle changes
// generate prorations.
func DefaultPolicy() Policy {
	return Policy{
		PaymentBehavior:   PaymentBehaviorAllowIncomplete,
		ProrationBehavior: ProrationBehaviorCreateProrations,
	}
}
