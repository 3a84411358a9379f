package service

import "github.com/blackspot/multistripe/domain"

// Typed conditions raised by the services. All carry domain error codes so
// callers branch on domain.ErrorCode / errors.Is instead of matching text.
var (
	// ErrCustomerNotCreated is returned when an operation requires a local
	// customer mirror row that has never been created.
	ErrCustomerNotCreated = &domain.Error{
		Code:    domain.ENOTFOUND,
		Message: "no customer has been created for this entity",
	}

	// ErrNotOnGracePeriod is returned when Resume is called on a
	// subscription that is not inside a cancellation grace period. The
	// remote API is never called in that case.
	ErrNotOnGracePeriod = &domain.Error{
		Code:    domain.EINVALID,
		Message: "subscription is not on its grace period",
	}
)

// validationError builds an EINVALID error for builder misuse, raised at
// option-call time rather than deferred to the remote submission.
func validationError(op, message string) error {
	return &domain.Error{Code: domain.EINVALID, Message: message, Op: op}
}
