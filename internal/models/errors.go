package models

import (
	"errors"
	"fmt"
)

// Sale errors surfaced to providers and the payment gateway
var (
	// ErrRoleUnavailable means the role is disabled, unconfigured or already sold
	ErrRoleUnavailable = errors.New("role unavailable")
	// ErrRoleAlreadyReserved means another purchase holds or won the role
	ErrRoleAlreadyReserved = errors.New("role already reserved")
	// ErrNotEligible means the distribution policy excludes the provider
	ErrNotEligible = errors.New("provider not eligible")
	// ErrDuplicateEvent marks a replayed payment event. It is never returned to callers.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrExternalDependency is wrapped by ExternalDependencyError
	ErrExternalDependency = errors.New("external dependency failure")
)

var (
	ErrLeadNotFound      = errors.New("lead not found")
	ErrIntentNotFound    = errors.New("purchase intent not found")
	ErrLeadClosed        = errors.New("lead is no longer open for changes")
	ErrRoleAlreadySold   = errors.New("role already has a purchase")
	ErrPayoutAlreadyPaid = errors.New("payout already paid")
	ErrPurchaseNotFound  = errors.New("purchase record not found")
	ErrInvalidEvent      = errors.New("invalid payment event")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
)

// ExternalDependencyError reports a failed call to the payment gateway,
// notification channel or payout transfer
type ExternalDependencyError struct {
	Service string
	Err     error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrExternalDependency) match any dependency failure
func (e *ExternalDependencyError) Is(target error) bool {
	return target == ErrExternalDependency
}

// NewExternalDependencyError wraps err as a failure of service
func NewExternalDependencyError(service string, err error) error {
	return &ExternalDependencyError{Service: service, Err: err}
}

// InvalidInput wraps ErrInvalidInput with a reason
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
