package order

import (
	"errors"
	"fmt"
)

type Status string

const (
	Pending    Status = "pending"
	Confirmed  Status = "confirmed"
	Processing Status = "processing"
	Shipped    Status = "shipped"
	Delivered  Status = "delivered"
	Cancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	Pending:    {Confirmed, Cancelled},
	Confirmed:  {Processing, Cancelled},
	Processing: {Shipped, Cancelled},
	Shipped:    {Delivered, Cancelled},
	Delivered:  {},
	Cancelled:  {},
}

var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError is returned when an order cannot move from From to To,
// either because the move is not allowed or because another writer changed
// the status first. It matches ErrInvalidTransition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// holdsStock reports whether stock was debited on entering s and has not
// left the warehouse yet.
func (s Status) holdsStock() bool {
	return s == Confirmed || s == Processing
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
