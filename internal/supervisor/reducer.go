package supervisor

import (
	"fmt"
	"time"
)

// EventKind enumerates the four event sources the event loop consumes.
type EventKind int

const (
	EventInc EventKind = iota
	EventDec
	EventVMExited
	EventTimer
)

// Event is a single input to the reducer.
type Event struct {
	Kind EventKind
	Err  error // set on EventVMExited when the VM exited abnormally
}

// ActionKind enumerates the side effects the reducer asks the event loop to
// perform. The reducer itself never performs I/O.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionWriteShutdownCommand
	ActionForceExit
	ActionBreakLoop
	ActionLogError
	ActionRescheduleDeadline
)

// Action is one side effect requested by the reducer.
type Action struct {
	Kind     ActionKind
	Err      error
	Deadline time.Time // for ActionRescheduleDeadline
}

// Reduce implements the transition table in spec.md §4.3. now is passed in
// so tests can control time deterministically.
func Reduce(s State, ev Event, now time.Time, grace, hard time.Duration) (State, []Action) {
	switch ev.Kind {
	case EventInc:
		return reduceInc(s)
	case EventDec:
		return reduceDec(s, now, grace)
	case EventVMExited:
		return reduceVMExited(s, ev)
	case EventTimer:
		return reduceTimer(s, now, hard)
	default:
		return s, nil
	}
}

func reduceInc(s State) (State, []Action) {
	s.RefCount++
	s.ShutdownDeadline = nil
	s.HardDeadline = nil
	s.ShutdownSent = false
	if s.Phase == PhaseDraining || s.Phase == PhasePoweroff {
		s.Phase = PhaseActive
	}
	return s, nil
}

func reduceDec(s State, now time.Time, grace time.Duration) (State, []Action) {
	if s.RefCount <= 0 {
		// Decrements saturate at zero (invariant 3); nothing to do.
		return s, nil
	}
	s.RefCount--
	if s.RefCount > 0 {
		return s, nil
	}
	deadline := now.Add(grace)
	s.ShutdownDeadline = &deadline
	s.Phase = PhaseDraining
	return s, nil
}

func reduceVMExited(s State, ev Event) (State, []Action) {
	s.Phase = PhaseExit
	actions := []Action{{Kind: ActionBreakLoop}}
	if ev.Err != nil {
		actions = []Action{{Kind: ActionLogError, Err: ev.Err}, {Kind: ActionBreakLoop}}
	}
	return s, actions
}

func reduceTimer(s State, now time.Time, hard time.Duration) (State, []Action) {
	// Hard deadline takes precedence regardless of phase.
	if s.HardDeadline != nil && !now.Before(*s.HardDeadline) {
		return s, []Action{{Kind: ActionForceExit}}
	}

	if s.Phase != PhaseDraining {
		return s, nil
	}
	if s.ShutdownDeadline == nil || now.Before(*s.ShutdownDeadline) {
		return s, nil
	}

	if s.WriterAvailable {
		s.ShutdownSent = true
		deadline := now.Add(hard)
		s.HardDeadline = &deadline
		s.Phase = PhasePoweroff
		return s, []Action{{Kind: ActionWriteShutdownCommand}}
	}

	if s.HardDeadline == nil {
		deadline := now.Add(hard)
		s.HardDeadline = &deadline
	}
	next := now.Add(RetryInterval)
	s.ShutdownDeadline = &next
	return s, []Action{{Kind: ActionRescheduleDeadline, Deadline: next}}
}

// ShutdownCommand is the exact byte sequence written to the guest serial
// console to request a graceful poweroff.
const ShutdownCommand = "systemctl poweroff\n"

func (s State) String() string {
	return fmt.Sprintf("phase=%s ref_count=%d shutdown_sent=%v", s.Phase, s.RefCount, s.ShutdownSent)
}
