package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateRequest is reserved for idempotency conflicts where the same
// key arrives with a different payload.
var ErrDuplicateRequest = errors.New("duplicate request")

// NotFoundError reports a missing or soft-deleted entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// NewNotFound builds a NotFoundError for the given entity kind and id.
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// RuleViolationError reports a business-rule violation (inactive entity,
// empty item list, malformed status value, ...).
type RuleViolationError struct {
	Msg string
}

func (e *RuleViolationError) Error() string { return e.Msg }

// NewRuleViolation builds a RuleViolationError with a formatted message.
func NewRuleViolation(format string, args ...any) *RuleViolationError {
	return &RuleViolationError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is a specialization of a rule violation carrying
// the offending SKU plus requested and available quantities.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: requested %d, available %d",
		e.SKU, e.Requested, e.Available)
}

// InvalidTransitionError reports an illegal order status transition.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %q -> %q", e.From, e.To)
}
