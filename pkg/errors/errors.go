package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMITED"

	// Marketplace-specific codes surfaced to users, agencies and administrators.
	CodeNoAgencyAvailable     Code = "NO_AGENCY_AVAILABLE"
	CodeResourceClaimConflict Code = "RESOURCE_CLAIM_CONFLICT"
	CodeAcceptanceConflict    Code = "CONCURRENT_ACCEPTANCE_CONFLICT"
	CodeCommissionRateInvalid Code = "COMMISSION_RATE_INVALID"
	CodeConfiguration         Code = "CONFIGURATION_ERROR"
)

// Metadata is how a code is rendered at the HTTP edge. Details are only echoed to
// callers when DetailsAllowed is set.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:            {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:          {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:             {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:              {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:              {http.StatusConflict, false, "conflict detected", false},
	CodeStateConflict:         {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeInternal:              {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:            {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	CodeIdempotency:           {http.StatusConflict, false, "idempotency key reused with a different request", false},
	CodeRateLimit:             {http.StatusTooManyRequests, true, "too many requests", true},
	CodeNoAgencyAvailable:     {http.StatusAccepted, true, "no agency is currently available; the application is queued", true},
	CodeResourceClaimConflict: {http.StatusConflict, false, "already represented by another partner", false},
	CodeAcceptanceConflict:    {http.StatusConflict, false, "this offer is no longer available, please refresh", false},
	CodeCommissionRateInvalid: {http.StatusUnprocessableEntity, false, "commission rate is invalid", true},
	CodeConfiguration:         {http.StatusUnprocessableEntity, false, "service configuration is invalid", true},
}

// MetadataFor falls back to the internal error rendering for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
