package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrSigningFailed  = errors.New("signing failed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
	ErrMissingReserve = errors.New("reserve missing from snapshot")
	ErrMissingQuote   = errors.New("oracle quote missing from snapshot")
	ErrStaleQuote     = errors.New("oracle quote is stale")
	ErrNoCandidate    = errors.New("no liquidation candidate")
	ErrDustPosition   = errors.New("deposit value below minimum")
	ErrAccountMissing = errors.New("token account not created")
	ErrInvalidAccount = errors.New("invalid account data")
	ErrSwapRoute      = errors.New("swap route unavailable")
)
