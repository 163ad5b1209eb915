package prescription

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound   = errors.New("prescription record not found")
	ErrLineItemNotFound = errors.New("medication line item not found")
	ErrFindingNotFound  = errors.New("safety finding not found")
	ErrUnknownField     = errors.New("unknown medication field")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrReasonRequired   = errors.New("rejection reason code is required")
	ErrQuestionRequired = errors.New("clarification question is required")
	ErrAnswerRequired   = errors.New("clarification answer is required")

	// ErrVersionConflict is returned by the repository when a conditional
	// save matched no row, meaning another writer got there first.
	ErrVersionConflict = errors.New("prescription was modified concurrently")
)

// GuardNotAllowed is the guard text for transitions the status table forbids
// outright, as opposed to ones refused by a specific unmet condition.
const GuardNotAllowed = "transition not allowed from current status"

// InvalidTransitionError reports a refused workflow operation together with
// the specific guard that was not met.
type InvalidTransitionError struct {
	From  Status
	Event string
	Guard string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s prescription in status %q: %s", e.Event, e.From, e.Guard)
}
