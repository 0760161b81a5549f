package dto

import (
	"net/http"
	"strings"
)

// Domain error codes surfaced by the billing services. Handlers map these to
// HTTP statuses via GetHTTPStatus; codes not listed here fall back by prefix.

// General error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeValidation is used for request validation failures
	ErrCodeValidation = "VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "INVALID_JSON"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeForbidden is used when the caller lacks permission
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeTokenExpired is used when the auth token has expired
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the auth token is invalid
	ErrCodeTokenInvalid = "TOKEN_INVALID"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvoiceNotFound is used when an allocation names an unknown invoice
	ErrCodeInvoiceNotFound = "INVOICE_NOT_FOUND"
	// ErrCodeAlreadyExists is used when creating a duplicate resource
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeConcurrencyConflict is used when optimistic locking fails after retries
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	// ErrCodeDuplicateRequest is used when an idempotency key was already consumed
	ErrCodeDuplicateRequest = "DUPLICATE_REQUEST"
)

// Billing rule error codes
const (
	// ErrCodeOverAllocated is used when allocations exceed the payment amount
	ErrCodeOverAllocated = "OVER_ALLOCATED"
	// ErrCodeDuplicateAllocation is used when a request allocates the same invoice twice
	ErrCodeDuplicateAllocation = "DUPLICATE_ALLOCATION"
	// ErrCodeAlreadyPaid is used when allocating against a settled invoice
	ErrCodeAlreadyPaid = "ALREADY_PAID"
	// ErrCodeInvalidState is used when an operation is invalid for the current status
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodeHasPayments is used when cancelling an invoice that has received money
	ErrCodeHasPayments = "HAS_PAYMENTS"
	// ErrCodeHasAllocations is used when refunding a payment that is still applied
	ErrCodeHasAllocations = "HAS_ALLOCATIONS"
	// ErrCodeExceedsBalance is used when an allocation exceeds the invoice balance
	ErrCodeExceedsBalance = "EXCEEDS_BALANCE"
)

// ErrorCodeHTTPStatus maps domain error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeInvoiceNotFound:     http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeDuplicateRequest:    http.StatusConflict,

	// Over-allocation is a malformed request, not a state conflict
	ErrCodeOverAllocated:       http.StatusBadRequest,
	ErrCodeDuplicateAllocation: http.StatusBadRequest,

	ErrCodeAlreadyPaid:    http.StatusUnprocessableEntity,
	ErrCodeInvalidState:   http.StatusUnprocessableEntity,
	ErrCodeHasPayments:    http.StatusUnprocessableEntity,
	ErrCodeHasAllocations: http.StatusUnprocessableEntity,
	ErrCodeExceedsBalance: http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for a domain error code.
// Unlisted INVALID_* codes are treated as bad input; everything else
// unknown maps to 500 so genuine bugs are not masked as client errors.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
