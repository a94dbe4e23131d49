package app

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeItemNotPublishedYet = "ITEM_NOT_PUBLISHED_YET"
	CodeGateBusy            = "GATE_BUSY"
	CodeInvalidVersion      = "INVALID_VERSION"
	CodeOutOfOrder          = "OUT_OF_ORDER"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeConflict            = "CONFLICT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeServerError         = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidationFailed, message, details)
}

func gateBusy(pendingID string) *DomainError {
	return domainError(http.StatusConflict, CodeGateBusy,
		"This item already has an update waiting for review. Wait for a moderator to decide on it before submitting another.",
		map[string]any{"pendingRequestId": pendingID})
}

func itemNotPublishedYet() *DomainError {
	return domainError(http.StatusConflict, CodeItemNotPublishedYet,
		"This item has not been published yet. Updates can be submitted once its first release is approved.",
		nil)
}

func invalidVersion(err error) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeInvalidVersion, err.Error(), nil)
}

func outOfOrder(err error) *DomainError {
	return domainError(http.StatusConflict, CodeOutOfOrder, err.Error(), nil)
}

func alreadyDecided(outcome string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, "update request was already decided", map[string]any{"outcome": outcome})
}

func rateLimited() *DomainError {
	return domainError(http.StatusTooManyRequests, CodeRateLimited, "you are commenting too quickly, try again shortly", nil)
}

func unauthorized(message string) *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// ErrorCode returns the DomainError code carried by err, or "" when err is
// not a domain error.
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
