package supervisor

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownWriter writes the poweroff command to the guest serial console.
// Implemented by internal/serialio's input pump.
type ShutdownWriter interface {
	WriteShutdown() error
}

// StatusBroadcaster fans a status line out to every connected client.
// Implemented by internal/socket.Server.
type StatusBroadcaster interface {
	Broadcast(status string)
}

// Loop owns the State and drives it to completion, funneling every mutation
// through a single channel per spec.md §5.
type Loop struct {
	events chan Event
	log    *logrus.Entry

	grace time.Duration
	hard  time.Duration

	writer    ShutdownWriter
	status    StatusBroadcaster
	forceExit func(code int)
}

// NewLoop constructs a Loop. forceExit defaults to os.Exit(1) if nil.
func NewLoop(grace, hard time.Duration, writer ShutdownWriter, status StatusBroadcaster, log *logrus.Entry, forceExit func(code int)) *Loop {
	if forceExit == nil {
		forceExit = os.Exit
	}
	return &Loop{
		events:    make(chan Event, 16),
		log:       log,
		grace:     grace,
		hard:      hard,
		writer:    writer,
		status:    status,
		forceExit: forceExit,
	}
}

// Events returns the channel producers (the socket server, the VM runner)
// send events on.
func (l *Loop) Events() chan<- Event { return l.events }

// Run drives the reducer until ActionBreakLoop or ActionForceExit. The
// caller sets initial.WriterAvailable once the guest input pump is ready
// (i.e. once vminstance.Start has returned successfully) before calling Run.
func (l *Loop) Run(initial State) error {
	s := initial
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	armTimer(timer, s)

	var exitErr error
	for {
		select {
		case ev := <-l.events:
			var actions []Action
			s, actions = Reduce(s, ev, time.Now(), l.grace, l.hard)
			exitErr = l.apply(actions, &exitErr)
			armTimer(timer, s)
			if phaseIsTerminal(actions) {
				return exitErr
			}
		case <-timer.C:
			var actions []Action
			s, actions = Reduce(s, Event{Kind: EventTimer}, time.Now(), l.grace, l.hard)
			exitErr = l.apply(actions, &exitErr)
			armTimer(timer, s)
			if phaseIsTerminal(actions) {
				return exitErr
			}
		}
	}
}

func phaseIsTerminal(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == ActionBreakLoop || a.Kind == ActionForceExit {
			return true
		}
	}
	return false
}

func (l *Loop) apply(actions []Action, exitErr *error) error {
	err := *exitErr
	for _, a := range actions {
		switch a.Kind {
		case ActionWriteShutdownCommand:
			if l.writer != nil {
				if werr := l.writer.WriteShutdown(); werr != nil {
					l.log.WithError(werr).Warn("failed to write shutdown command")
				}
			}
		case ActionLogError:
			err = a.Err
			l.log.WithError(a.Err).Warn("vm exited with error")
		case ActionForceExit:
			l.log.Warn("hard shutdown deadline elapsed, forcing exit")
			if l.forceExit != nil {
				l.forceExit(1)
			}
		case ActionRescheduleDeadline:
			// no side effect beyond the state mutation already applied
		case ActionBreakLoop, ActionNone:
		}
	}
	return err
}

// armTimer resets timer to fire at the earlier of ShutdownDeadline and
// HardDeadline, or a long sleep if neither is set.
func armTimer(timer *time.Timer, s State) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	next := farFuture()
	if s.ShutdownDeadline != nil && s.ShutdownDeadline.Before(next) {
		next = *s.ShutdownDeadline
	}
	if s.HardDeadline != nil && s.HardDeadline.Before(next) {
		next = *s.HardDeadline
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func farFuture() time.Time {
	return time.Now().Add(24 * time.Hour)
}
