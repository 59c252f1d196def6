package order

import "errors"

var (
	// ErrInvalidOrderRequest rejects a request before any order exists.
	ErrInvalidOrderRequest = errors.New("invalid order request")
	// ErrOrderNotCancellable is returned for terminal orders and failed backend cancels.
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrOrderNotFound       = errors.New("order not found")
	// ErrRiskLimit rejects a request that would breach a risk limit.
	ErrRiskLimit = errors.New("risk limit")
	// ErrInvalidEvent is returned by Transition for events it cannot apply.
	ErrInvalidEvent = errors.New("invalid order event")
)
