package llm

import "errors"

// Typed completion failures. The orchestrator maps all of them to the same
// persona fallback; the distinction exists for logs and tests.
var (
	ErrTimeout         = errors.New("completion timed out")
	ErrRateLimited     = errors.New("completion rate limited")
	ErrServerError     = errors.New("completion server error")
	ErrInvalidResponse = errors.New("completion response invalid")
)
