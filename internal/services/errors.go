package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/utils"
)

// ErrorKind describes one class of service failure and the HTTP status it
// maps to at the API boundary.
type ErrorKind struct {
	Name    string
	Status  int
	Message string
}

var (
	KindNotFound = ErrorKind{
		Name:    "NotFound",
		Status:  http.StatusNotFound,
		Message: "Resource not found",
	}
	KindAlreadyProcessed = ErrorKind{
		Name:    "AlreadyProcessed",
		Status:  http.StatusConflict,
		Message: "Payment has already been processed",
	}
	KindIllegalTransition = ErrorKind{
		Name:    "IllegalTransition",
		Status:  http.StatusConflict,
		Message: "Order cannot move to the requested state",
	}
	KindConflict = ErrorKind{
		Name:    "Conflict",
		Status:  http.StatusConflict,
		Message: "Resource already exists",
	}
	KindValidation = ErrorKind{
		Name:    "ValidationError",
		Status:  http.StatusBadRequest,
		Message: "Invalid request",
	}
	KindGatewayDeclined = ErrorKind{
		Name:    "GatewayDeclined",
		Status:  http.StatusPaymentRequired,
		Message: "The payment was declined",
	}
	KindTransientGateway = ErrorKind{
		Name:    "TransientGatewayError",
		Status:  http.StatusServiceUnavailable,
		Message: "The payment provider is unavailable, please try again",
	}
	KindUnexpected = ErrorKind{
		Name:    "Unexpected",
		Status:  http.StatusInternalServerError,
		Message: "Something went wrong",
	}
)

var (
	// ErrInsufficientStock is returned by checkout when a line cannot be covered.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity is returned for non-positive stock changes.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// ServiceError is the error type surfaced by every service operation.
// Message is safe to show to the caller; Err is for logs only.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Name, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *ServiceError {
	if message == "" {
		message = kind.Message
	}
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, treating anything unclassified as Unexpected.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnexpected
}

// classify turns lower-layer errors into ServiceErrors. Unknown errors become
// Unexpected with the generic message so no detail reaches the caller.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindNotFound, "", err)
	case errors.Is(err, repository.ErrDuplicate):
		return newError(KindConflict, "", err)
	case errors.Is(err, lifecycle.ErrAlreadyProcessed):
		return newError(KindAlreadyProcessed, "", err)
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, lifecycle.ErrInconsistentState):
		return newError(KindIllegalTransition, "", err)
	case errors.Is(err, ErrGatewayUnavailable):
		return newError(KindTransientGateway, "", err)
	case errors.Is(err, utils.ErrNonPositiveAmount), errors.Is(err, ErrInvalidQuantity):
		return newError(KindValidation, err.Error(), err)
	case errors.Is(err, ErrInsufficientStock):
		return newError(KindValidation, "Not enough stock to fulfil the order", err)
	}
	return newError(KindUnexpected, "", err)
}
