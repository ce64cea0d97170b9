// Package supervisor implements the reference-counted shutdown state
// machine described in spec.md §4.3 as a pure reducer over (State, Event)
// pairs, plus the event loop that drives it.
package supervisor

import "time"

// Phase names the high-level state, independent of ref_count, used only for
// readability in tests and logging.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseDraining
	PhasePoweroff
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseDraining:
		return "draining"
	case PhasePoweroff:
		return "poweroff"
	case PhaseExit:
		return "exit"
	default:
		return "unknown"
	}
}

// State is the supervisor's in-memory, single-goroutine-owned state.
type State struct {
	Phase    Phase
	RefCount int

	ShutdownDeadline *time.Time
	ShutdownSent     bool
	HardDeadline     *time.Time

	WriterAvailable bool
}

// Constants from spec.md §4.3.
const (
	HardDeadlineDefault = 12 * time.Second
	RetryInterval       = 500 * time.Millisecond
)

// NewState returns the initial Active(0) state — ref_count starts at zero
// until the first client connects; the first Dec from Active(0) is
// impossible in practice since the supervisor is only started to serve a
// waiting client, but the reducer treats Active(0) as a valid starting
// point distinct from Draining (no deadline set yet).
func NewState() State {
	return State{Phase: PhaseActive, RefCount: 0}
}

// Grace returns max(autoShutdown, 1ms), per spec.md §4.3.
func Grace(autoShutdown time.Duration) time.Duration {
	if autoShutdown < time.Millisecond {
		return time.Millisecond
	}
	return autoShutdown
}
