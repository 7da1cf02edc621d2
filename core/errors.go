package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned when an entity does not exist.
type NotFoundError struct {
	Entity string
}

func NewNotFoundError(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

func (err NotFoundError) Error() string {
	return err.Entity + " not found"
}

// ForbiddenError covers every authorization denial: wrong role, not the owner of a resource...
type ForbiddenError struct {
	Reason string
}

func NewForbiddenError(reason string) *ForbiddenError {
	return &ForbiddenError{Reason: reason}
}

func (err ForbiddenError) Error() string {
	return err.Reason
}

// ConflictError is returned when a request collides with existing state (eg. already enrolled).
type ConflictError struct {
	Reason string
}

func NewConflictError(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

func (err ConflictError) Error() string {
	return err.Reason
}

// InvalidStateError is returned when an entity is not in a state that allows the operation.
type InvalidStateError struct {
	Reason string
}

func NewInvalidStateError(reason string) *InvalidStateError {
	return &InvalidStateError{Reason: reason}
}

func (err InvalidStateError) Error() string {
	return err.Reason
}

// PaymentDeclinedError is returned when the payment gateway refuses a charge.
type PaymentDeclinedError struct {
	Reason string
}

func NewPaymentDeclinedError(reason string) *PaymentDeclinedError {
	return &PaymentDeclinedError{Reason: reason}
}

func (err PaymentDeclinedError) Error() string {
	return "payment declined: " + err.Reason
}

// ReconciliationError means money was taken but the matching access grant did not land.
// The payment stays completed; the pair is queued for the reconciliation sweep.
type ReconciliationError struct {
	PaymentID    string
	EnrollmentID string
	MonthNumber  int
	Err          error
}

func NewReconciliationError(paymentID, enrollmentID string, month int, err error) *ReconciliationError {
	return &ReconciliationError{PaymentID: paymentID, EnrollmentID: enrollmentID, MonthNumber: month, Err: err}
}

func (err ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation required: payment %s / enrollment %s (month %d): %v",
		err.PaymentID, err.EnrollmentID, err.MonthNumber, err.Err)
}

func (err ReconciliationError) Unwrap() error { return err.Err }

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsForbidden(err error) bool {
	_, ok := errors.Cause(err).(*ForbiddenError)
	return ok
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

func IsInvalidState(err error) bool {
	_, ok := errors.Cause(err).(*InvalidStateError)
	return ok
}

func IsReconciliationRequired(err error) bool {
	_, ok := errors.Cause(err).(*ReconciliationError)
	return ok
}
