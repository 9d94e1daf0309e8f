package stoporder

import "errors"

var (
	ErrValidation    = errors.New("the submission is invalid")
	ErrLimitExceeded = errors.New("too many active stop orders for the party in this market")
	ErrInvalidState  = errors.New("the stop order is not in a pending state")
	ErrNotFound      = errors.New("not found")
	ErrShutdown      = errors.New("the engine is shutting down")
	ErrTimeout       = errors.New("timeout")
	ErrInternal      = errors.New("internal error")
)
