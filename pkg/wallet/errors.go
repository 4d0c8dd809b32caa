package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrAccountNotFound             = errors.New("account not found")
	ErrAccountExists               = errors.New("account already exists")
	ErrEntryNotFound               = errors.New("entry not found")
	ErrInvalidTopupState           = errors.New("invalid topup state")
	ErrAlreadyRefunded             = errors.New("already refunded")
	ErrOriginalTransactionNotFound = errors.New("original transaction not found")
	ErrLockTimeout                 = errors.New("lock timeout")
	ErrDuplicateIdempotencyKey     = errors.New("duplicate idempotency key")
	ErrDuplicateEntryCode          = errors.New("duplicate entry code")
	ErrInvalidTenantID             = errors.New("invalid tenant id")
	ErrInvalidCampaignID           = errors.New("invalid campaign id")
	ErrInvalidActorID              = errors.New("invalid actor id")
	ErrInvalidIdempotencyKey       = errors.New("invalid idempotency key")
	ErrInvalidEntryCode            = errors.New("invalid entry code")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInvalidEntryKind            = errors.New("invalid entry kind")
	ErrInvalidTopupStatus          = errors.New("invalid topup status")
	ErrInvalidReasonCode           = errors.New("invalid reason code")
	ErrInvalidMetadataJSON         = errors.New("invalid metadata json")
	ErrInvalidServiceConfig        = errors.New("invalid service config")
	ErrBelowMinimumTopup           = errors.New("below minimum topup amount")
)

// InsufficientFundsError reports a failed funds check on the hold/correction path.
type InsufficientFundsError struct {
	Available int64
	Required  int64
	Shortfall int64
}

// Error returns the formatted error message.
func (fundsError InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available=%d required=%d shortfall=%d",
		fundsError.Available, fundsError.Required, fundsError.Shortfall)
}

// Unwrap lets callers match with errors.Is(err, ErrInsufficientFunds).
func (fundsError InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// NewInsufficientFundsError builds the error from the locked balance snapshot.
func NewInsufficientFundsError(available int64, required int64) InsufficientFundsError {
	return InsufficientFundsError{
		Available: available,
		Required:  required,
		Shortfall: required - available,
	}
}

// InsufficientBalanceError reports a failed funds check on the direct-charge path.
// Callers must treat it as fatal for the billed action.
type InsufficientBalanceError struct {
	Available int64
	Required  int64
}

// Error returns the formatted error message.
func (balanceError InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available=%d required=%d",
		balanceError.Available, balanceError.Required)
}

// Unwrap lets callers match with errors.Is(err, ErrInsufficientBalance).
func (balanceError InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

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
