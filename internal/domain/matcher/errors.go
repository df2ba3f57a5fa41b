package matcher

import "errors"

// Sentinel kinds for matching errors.
var (
	ErrTooManySkipped = errors.New("too many malformed snapshot entries")
)
