package ledger

import (
	"errors"
	"fmt"
)

// ErrAccountNotFound is returned by Debit when no credit balance row exists
// for the user. Callers must provision (or credit) an account before the
// first debit.
var ErrAccountNotFound = errors.New("credit account not found")

// InsufficientCreditsError is returned by Debit when the conditional update
// affected no row because the requested amount exceeds the remaining
// headroom. Remaining reflects the balance observed after the failed attempt.
type InsufficientCreditsError struct {
	Remaining int64
	Required  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d remaining, %d required", e.Remaining, e.Required)
}

// IsInsufficientCredits reports whether err is an InsufficientCreditsError
// and returns it typed when it is.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
