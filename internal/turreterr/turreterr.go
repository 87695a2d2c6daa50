// Package turreterr defines the tagged error kinds shared across the
// turret core, matching the taxonomy in the project's error handling
// design: invalid configuration, hardware faults, limit interlocks, mode
// conflicts, laser cooldown/busy, timeouts, and cooperative cancellation.
package turreterr

import "fmt"

// Sentinel kinds usable with errors.Is. Components wrap these with
// fmt.Errorf("%w: ...", Kind) to attach context without losing the kind.
var (
	ErrInvalidConfig = &kindError{"invalid configuration"}
	ErrHardware      = &kindError{"hardware error"}
	ErrLimitBlocked  = &kindError{"limit blocked"}
	ErrModeDisabled  = &kindError{"mode disabled"}
	ErrCooldown      = &kindError{"cooldown"}
	ErrBusy          = &kindError{"busy"}
	ErrTimeout       = &kindError{"timeout"}
	ErrCancelled     = &kindError{"cancelled"}
	ErrMalformed     = &kindError{"malformed"}
)

type kindError struct{ msg string }

func (e *kindError) Error() string { return e.msg }

// Rejected is returned to operator-facing callers (spec's "Ok | Rejected(reason)"
// command/response pair). It always wraps one of the sentinel kinds above so
// callers can still errors.Is against it.
type Rejected struct {
	Reason string
	Kind   error
}

func (r *Rejected) Error() string { return fmt.Sprintf("rejected: %s", r.Reason) }

func (r *Rejected) Unwrap() error { return r.Kind }

// Reject builds a Rejected error from a kind and a human-readable reason.
func Reject(kind error, reason string) *Rejected {
	return &Rejected{Reason: reason, Kind: kind}
}
