// Package apperr defines the error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the response envelope.
const (
	CodeFlashSaleNotStarted = "FLASH_SALE_NOT_STARTED"
	CodeFlashSaleEnded      = "FLASH_SALE_ENDED"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeOutOfStock          = "OUT_OF_STOCK"
	CodeAlreadyPurchased    = "ALREADY_PURCHASED"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_SERVER_ERROR"
)

// Error is a domain rejection or infrastructure failure with a stable code
// and HTTP status. Domain rejections carry 4xx statuses and are never
// retried server-side; everything else maps to a generic 500.
type Error struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a caller-facing error.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Wrap attaches an underlying cause that is logged but not exposed.
func Wrap(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, err: err}
}

// Internal wraps err as a generic 500 for the caller.
func Internal(err error) *Error {
	return Wrap(http.StatusInternalServerError, CodeInternal, "something went wrong", err)
}

// From extracts an *Error from err, or wraps it as a 500.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
