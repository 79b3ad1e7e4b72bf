package engine

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCancelFilled     = errors.New("cannot cancel a filled order")
	ErrAlreadyCancelled = errors.New("order is already cancelled")
)

// ValidationError reports an order that failed validation before any store
// interaction. The caller should reject the submission.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UnsupportedOrderTypeError reports an order type outside the known set.
type UnsupportedOrderTypeError struct {
	OrderType string
}

func (e *UnsupportedOrderTypeError) Error() string {
	return fmt.Sprintf("unsupported order type: %s", e.OrderType)
}
