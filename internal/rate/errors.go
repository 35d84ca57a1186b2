package rate

import "errors"

var (
	// ErrRateLimited means the caller exhausted this window's budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures so callers can choose
	// to fail open.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
