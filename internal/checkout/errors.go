package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrEmptyCart        = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrMissingCustomer  = fmt.Errorf("%w: customer is required", ErrValidation)
	ErrStaleSettlement  = fmt.Errorf("%w: payments were not accepted against the current total", ErrValidation)
	ErrStaleTotals      = fmt.Errorf("%w: totals do not match the cart", ErrValidation)
	ErrAmountTooLarge   = fmt.Errorf("%w: sale total exceeds the allowed maximum", ErrValidation)
	ErrCommitInProgress = errors.New("commit already in progress")
	ErrCommitFailed     = errors.New("commit failed")
	ErrNoReceipt        = errors.New("persister returned no sale id")
)

// CommitError wraps the persister failure of one attempt. It matches
// ErrCommitFailed and unwraps to the cause.
type CommitError struct {
	AttemptID string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed (attempt %s): %v", e.AttemptID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }
