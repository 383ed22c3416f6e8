package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes returned by the engine. Business-rule codes never imply a partial write.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeUnauthorizedApprover  = "UNAUTHORIZED_APPROVER"
	CodeLevelAlreadyResolved  = "LEVEL_ALREADY_RESOLVED"
	CodeLevelNotActive        = "LEVEL_NOT_ACTIVE"
	CodeRejectNotAllowed      = "REJECT_NOT_ALLOWED"
	CodeDelegationNotAllowed  = "DELEGATION_NOT_ALLOWED"
	CodeChainFrozen           = "CHAIN_FROZEN"
	CodeConfigurationError    = "CONFIGURATION_ERROR"
	CodeInfrastructureError   = "INFRASTRUCTURE_ERROR"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewInvalidTransition reports a status change that is not in the type's transition table.
func NewInvalidTransition(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusConflict, details)
}

func NewUnauthorizedApprover(approver string, level int) error {
	return NewDomainError(CodeUnauthorizedApprover, "approver is not a member of the active level", http.StatusForbidden,
		map[string]any{"approver": approver, "level": level})
}

func NewLevelAlreadyResolved(level int) error {
	return NewDomainError(CodeLevelAlreadyResolved, "approval level already resolved", http.StatusConflict,
		map[string]any{"level": level})
}

func NewLevelNotActive(level, active int) error {
	return NewDomainError(CodeLevelNotActive, "approval level is not active", http.StatusConflict,
		map[string]any{"level": level, "active_level": active})
}

func NewRejectNotAllowed(level int) error {
	return NewDomainError(CodeRejectNotAllowed, "level does not allow rejection", http.StatusUnprocessableEntity,
		map[string]any{"level": level})
}

func NewDelegationNotAllowed(message string, details map[string]any) error {
	return NewDomainError(CodeDelegationNotAllowed, message, http.StatusUnprocessableEntity, details)
}

func NewChainFrozen(chainID string) error {
	return NewDomainError(CodeChainFrozen, "approval chain is frozen", http.StatusConflict,
		map[string]any{"chain_id": chainID})
}

func NewConfigurationError(message string, details map[string]any) error {
	return NewDomainError(CodeConfigurationError, message, http.StatusUnprocessableEntity, details)
}

// NewInfrastructureError wraps a storage, lock or directory failure.
func NewInfrastructureError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInfrastructureError,
		Message:    "infrastructure failure",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries the given DomainError code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsBusinessError reports whether err is an expected rule violation rather than a failure.
func IsBusinessError(err error) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.HTTPStatus < http.StatusInternalServerError && domainErr.Code != CodeInfrastructureError
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
