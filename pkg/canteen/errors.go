package canteen

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the canteen service.
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOperatorNotFound       = errors.New("operator not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUserExists             = errors.New("user already exists")
	ErrEmptyOrder             = errors.New("empty order")
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrInvalidOrderID         = errors.New("invalid order id")
	ErrInvalidEntryID         = errors.New("invalid entry id")
	ErrInvalidPoints          = errors.New("invalid points amount")
	ErrInvalidEntryPoints     = errors.New("invalid entry points amount")
	ErrInvalidLineItem        = errors.New("invalid line item")
	ErrInvalidRole            = errors.New("invalid role")
	ErrInvalidOrderStatus     = errors.New("invalid order status")
	ErrInvalidEntryKind       = errors.New("invalid entry kind")
	ErrInvalidBalance         = errors.New("invalid balance")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
