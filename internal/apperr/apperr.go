// Package apperr defines the stable, machine-readable error codes returned at
// the request boundary and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized                Code = "UNAUTHORIZED"
	CodeForbidden                   Code = "FORBIDDEN"
	CodeValidation                  Code = "VALIDATION_ERROR"
	CodeSlotNotAvailable            Code = "SLOT_NOT_AVAILABLE"
	CodeVetNotFound                 Code = "VET_NOT_FOUND"
	CodePetOwnerNotFound            Code = "PET_OWNER_NOT_FOUND"
	CodePetNotFound                 Code = "PET_NOT_FOUND"
	CodeQuotaExhausted              Code = "QUOTA_EXHAUSTED"
	CodeAppointmentNotFound         Code = "APPOINTMENT_NOT_FOUND"
	CodeSubscriptionNotFound        Code = "SUBSCRIPTION_NOT_FOUND"
	CodeDuplicateActiveSubscription Code = "DUPLICATE_ACTIVE_SUBSCRIPTION"
	CodeInvalidStatusTransition     Code = "INVALID_STATUS_TRANSITION"
	CodeReviewExists                Code = "REVIEW_EXISTS"
	CodeInternal                    Code = "INTERNAL_SERVER_ERROR"
)

var statusByCode = map[Code]int{
	CodeUnauthorized:                http.StatusUnauthorized,
	CodeForbidden:                   http.StatusForbidden,
	CodeValidation:                  http.StatusBadRequest,
	CodeSlotNotAvailable:            http.StatusConflict,
	CodeVetNotFound:                 http.StatusNotFound,
	CodePetOwnerNotFound:            http.StatusNotFound,
	CodePetNotFound:                 http.StatusNotFound,
	CodeQuotaExhausted:              http.StatusConflict,
	CodeAppointmentNotFound:         http.StatusNotFound,
	CodeSubscriptionNotFound:        http.StatusNotFound,
	CodeDuplicateActiveSubscription: http.StatusConflict,
	CodeInvalidStatusTransition:     http.StatusConflict,
	CodeReviewExists:                http.StatusConflict,
	CodeInternal:                    http.StatusInternalServerError,
}

// HTTPStatus returns the status the API answers with for c.
func (c Code) HTTPStatus() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a caller-facing failure. Fields is only set for validation errors
// and is keyed by the JSON field name.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap keeps cause reachable through errors.Is while presenting code to the caller.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func Validation(fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: "request validation failed", Fields: fields}
}

// From extracts an *Error from err, or reports an internal error for anything else.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Code: CodeInternal, Message: "internal server error", cause: err}
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
