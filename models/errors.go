package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCart             = errors.New("invalid cart")
	ErrCatalogItemUnavailable  = errors.New("catalog item unavailable")
	ErrInvalidOrderState       = errors.New("invalid order state")
	ErrUnderpaidOrder          = errors.New("order is not fully paid")
	ErrOrderNotPayable         = errors.New("order is not payable")
	ErrDuplicatePendingPayment = errors.New("order already has a pending payment")
	ErrPaymentNotSettleable    = errors.New("payment cannot be settled in its current state")
	ErrRefundExceedsSettlement = errors.New("refund exceeds settled amount")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrOrderNotFound           = errors.New("order not found")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrMovieNotFound           = errors.New("movie not found")
	ErrPersistence             = errors.New("persistence failure")
)

// StateError is returned for every rejected transition. It carries the kind of
// the rejection and the state the entity was observed in.
type StateError struct {
	Kind   error
	Entity string
	ID     int64
	Status string
	Detail string
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("%v: %s %d is %s", e.Kind, e.Entity, e.ID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StateError) Unwrap() error {
	return e.Kind
}

func OrderStateError(kind error, order *Order, detail string) *StateError {
	return &StateError{Kind: kind, Entity: "order", ID: order.ID, Status: order.Status.String(), Detail: detail}
}

func PaymentStateError(kind error, payment *Payment, detail string) *StateError {
	return &StateError{Kind: kind, Entity: "payment", ID: payment.ID, Status: payment.Status.String(), Detail: detail}
}

// PersistenceError wraps storage failures. They are surfaced as-is and never retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
