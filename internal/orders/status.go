package orders

import "github.com/vendalog/order-engine/internal/domain"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusSeparated Status = "separated"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// validNext is the whole fulfillment flow. Cancellation is only reachable
// before picking starts; delivered and cancelled are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusSeparated: true, StatusCancelled: true},
	StatusSeparated: {StatusShipped: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition returns the new status, or an InvalidTransitionError when the
// edge is not in the table. It is the only gate through which a persisted
// order status may change.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, &domain.InvalidTransitionError{From: string(from), To: string(to)}
	}
	return to, nil
}

// Statuses lists every known status, for input validation messages.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusConfirmed, StatusSeparated,
		StatusShipped, StatusDelivered, StatusCancelled,
	}
}
