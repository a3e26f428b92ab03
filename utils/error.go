package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Business errors for the order mutation engine. Each is detected before any
// write and returned synchronously; none are retried automatically.
var (
	ErrorOrderTerminal              = errors.New("cannot modify a delivered or cancelled order")
	ErrorNothingToSplit             = errors.New("order must have at least 2 items to split")
	ErrorCannotSplitEverything      = errors.New("cannot split all items; at least one item must remain")
	ErrorUnknownItem                = errors.New("some items do not belong to this order")
	ErrorInvalidReference           = errors.New("referenced record does not exist")
	ErrorInvalidAssignment          = errors.New("assigned user must have the tailor role")
	ErrorInsufficientAvailableStock = errors.New("insufficient available stock for reservation")
)

// ErrorTransactionFailed wraps commit/deadlock/connectivity failures.
// The whole operation is atomic, so callers may retry it wholesale.
var ErrorTransactionFailed = errors.New("transaction failed")
