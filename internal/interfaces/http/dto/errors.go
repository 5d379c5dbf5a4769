package dto

import "net/http"

// Error codes surfaced by the API. Domain error codes pass through
// unchanged so billing clients can branch on them.
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeValidation is used when request validation fails
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists is used when a unique identifier is taken
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeConcurrencyConflict is used when optimistic locking loses a race
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	// ErrCodeIdentifierCollision is used when generated identifiers keep colliding
	ErrCodeIdentifierCollision = "IDENTIFIER_COLLISION"
	// ErrCodeInvalidBatchState is used when a terminal batch is mutated
	ErrCodeInvalidBatchState = "INVALID_BATCH_STATE"
	// ErrCodeInsufficientStock is used when stock cannot cover a sale
	ErrCodeInsufficientStock = "INSUFFICIENT_STOCK"
	// ErrCodeExpiredStock is used when only expired stock remains; billing
	// clients warn on this rather than hard-block
	ErrCodeExpiredStock = "EXPIRED_STOCK"
)

// errorCodeHTTPStatus maps error codes to HTTP status codes.
// Conflicts that a retry may fix are 409; business rule failures that a
// retry cannot fix are 422.
var errorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:   http.StatusInternalServerError,
	ErrCodeBadRequest: http.StatusBadRequest,
	ErrCodeValidation: http.StatusBadRequest,
	"INVALID_INPUT":   http.StatusBadRequest,

	ErrCodeNotFound: http.StatusNotFound,

	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeIdentifierCollision: http.StatusConflict,
	ErrCodeInvalidBatchState:   http.StatusConflict,

	ErrCodeInsufficientStock: http.StatusUnprocessableEntity,
	ErrCodeExpiredStock:      http.StatusUnprocessableEntity,
	"INVALID_STATE":          http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status for an error code,
// defaulting to 500 for unknown codes
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
