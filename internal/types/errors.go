package types

import "errors"

// Business-rule violations. All are local, synchronous and non-retriable:
// the caller must correct the request. A failed operation performs no
// partial mutation.
var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnknownTicker      = errors.New("unknown ticker")
	ErrDuplicateTicker    = errors.New("ticker already exists")
	ErrDuplicateAgent     = errors.New("agent already exists")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNotOwner           = errors.New("order belongs to another agent")
	ErrAlreadyTerminal    = errors.New("order already in a terminal state")
	ErrAlreadyPublic      = errors.New("company is already public")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrSelfCross          = errors.New("order would cross an order from the same agent")
)
