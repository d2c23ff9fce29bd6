// Package apperr holds the error taxonomy shared by the checkout pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrSignatureMismatch  = errors.New("payment signature mismatch")
	ErrDuplicateCallback  = errors.New("duplicate payment callback")
	ErrAmountMismatch     = errors.New("payment amount does not match order")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotConfirmed       = errors.New("action not confirmed")
)

// ValidationError is a shopper-correctable problem with no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// OutOfStockError reports a decrement that would drive stock negative.
type OutOfStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// TransitionError carries the rejected move.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ConfirmationRequired is returned when a destructive action was not
// confirmed; Prompt is what should be shown to the operator.
type ConfirmationRequired struct {
	Prompt string
}

func (e ConfirmationRequired) Error() string {
	return "confirmation required: " + e.Prompt
}

func (e ConfirmationRequired) Unwrap() error {
	return ErrNotConfirmed
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
