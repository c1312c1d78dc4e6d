package syncer

import (
	"fmt"
	"time"
)

// State is a step of the sync pipeline.
//
//	Idle -> Resolving -> Throttled
//	                  -> Fetching -> Parsing -> Reconciling -> Recording -> Idle
//
// Error is entered from any working state and leaves the store and the
// throttle record as they were (a Recording failure happens after the store
// commit and is the one exception).
type State int

const (
	Idle State = iota
	Resolving
	Throttled
	Fetching
	Parsing
	Reconciling
	Recording
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Throttled:
		return "throttled"
	case Fetching:
		return "fetching"
	case Parsing:
		return "parsing"
	case Reconciling:
		return "reconciling"
	case Recording:
		return "recording"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one sync.
//
// State is terminal: Idle (completed or skipped), Throttled or Error. On
// Error, FailedIn names the step that failed and Err holds the cause.
type Result struct {
	State    State
	FailedIn State
	Err      error

	// Key is the throttle key, empty when resolution failed or was skipped.
	Key string
	// Skipped is set for targets that are never fetched (favorites, the search listing).
	Skipped bool

	// Rows is the number of mapped rows. Zero rows leave the store untouched.
	Rows     int
	Deleted  int64
	Inserted int64
	Updated  int64

	Duration time.Duration
}

// OK reports whether the sync ended without error.
func (r Result) OK() bool { return r.State != Error }
