// Package login drives the guest from its boot-time login prompt to a
// ready shell by feeding a fixed action list into the serial console,
// per spec.md §4.6. Grounded on original_source/src/vm_manager.rs's
// LoginAction handling and vm.rs's wait_for/wait_for_any contract, and on
// other_examples/59fa81c5_royisme-vibebox...darwin.go.go's Bootstrap (the
// standard-prelude shape: expect login, send root, expect shell prompt,
// then mount commands per directory share).
package login

import (
	"fmt"
	"time"

	"github.com/vibebox/vibebox/internal/mount"
	"github.com/vibebox/vibebox/internal/serialio"
)

const (
	// LoginTimeout bounds each Expect/ExpectEither in the prelude and any
	// caller-supplied login-flow action, per spec.md §5.
	LoginTimeout = 120 * time.Second
	// ProvisioningTimeout bounds caller-supplied provisioning actions.
	ProvisioningTimeout = 900 * time.Second
)

// ActionKind identifies one of the three action shapes the scheduler
// consumes.
type ActionKind int

const (
	ActionExpect ActionKind = iota
	ActionExpectEither
	ActionSend
)

// Action is one step of a login sequence. Only the fields relevant to
// Kind are populated.
type Action struct {
	Kind ActionKind

	Text    string // ActionExpect
	Success string // ActionExpectEither
	Failure string // ActionExpectEither
	Timeout time.Duration

	Send string // ActionSend
}

func Expect(text string, timeout time.Duration) Action {
	return Action{Kind: ActionExpect, Text: text, Timeout: timeout}
}

func ExpectEither(success, failure string, timeout time.Duration) Action {
	return Action{Kind: ActionExpectEither, Success: success, Failure: failure, Timeout: timeout}
}

func Send(text string) Action {
	return Action{Kind: ActionSend, Send: text}
}

// FailureKind distinguishes why a sequence stopped early.
type FailureKind int

const (
	FailureTimeout FailureKind = iota
	FailureMarker
)

// Failure is the error Run returns when a login action does not resolve
// successfully; the supervisor then requests a VM stop and surfaces it as
// its exit error.
type Failure struct {
	Kind    FailureKind
	Action  string
	Timeout time.Duration
	Reason  string
}

func (f Failure) Error() string {
	if f.Kind == FailureTimeout {
		return fmt.Sprintf("login action %q timed out after %s", f.Action, f.Timeout)
	}
	return fmt.Sprintf("login action %q failed: %s", f.Action, f.Reason)
}

// Sender enqueues bytes for delivery to the guest over the serial input
// pipe, matching serialio.Engine.Send's signature.
type Sender interface {
	Send(data []byte)
}

// Scheduler runs an ordered action list against an OutputMonitor, one
// action at a time, on the goroutine that calls Run.
type Scheduler struct {
	monitor *serialio.OutputMonitor
	sender  Sender
}

func NewScheduler(monitor *serialio.OutputMonitor, sender Sender) *Scheduler {
	return &Scheduler{monitor: monitor, sender: sender}
}

// Run executes actions in order, stopping at the first failure. A nil
// error means every action resolved successfully.
func (s *Scheduler) Run(actions []Action) error {
	for _, action := range actions {
		switch action.Kind {
		case ActionExpect:
			if result := s.monitor.WaitFor(action.Text, action.Timeout); result == serialio.TimedOut {
				return Failure{Kind: FailureTimeout, Action: action.Text, Timeout: action.Timeout}
			}
		case ActionExpectEither:
			idx, result := s.monitor.WaitForAny([]string{action.Success, action.Failure}, action.Timeout)
			switch {
			case result == serialio.TimedOut:
				return Failure{Kind: FailureTimeout, Action: action.Success, Timeout: action.Timeout}
			case idx == 1:
				return Failure{
					Kind:   FailureMarker,
					Action: action.Success,
					Reason: fmt.Sprintf("saw failure marker %s", action.Failure),
				}
			}
		case ActionSend:
			s.sender.Send([]byte(action.Send + "\n"))
		}
	}
	return nil
}

// StandardPrelude builds the fixed login-flow prefix: expect the login
// prompt, send the root username, expect a shell prompt, then mount each
// directory share from its staged location and, if links is non-empty,
// run the home-link script. If resizeScript is non-empty it is appended
// as the final Send, per spec.md §4.6's resize note.
func StandardPrelude(shares []mount.Share, links []mount.HomeLink, sshUser, resizeScript string) []Action {
	actions := []Action{
		Expect("login: ", LoginTimeout),
		Send("root"),
		Expect("~#", LoginTimeout),
	}

	if len(shares) > 0 {
		actions = append(actions,
			Send("mkdir -p /mnt/shared"),
			Expect("~#", LoginTimeout),
			Send("mount -t virtiofs shared /mnt/shared"),
			Expect("~#", LoginTimeout),
		)
		for _, share := range shares {
			tag := mount.ShareTag(share.HostPath)
			actions = append(actions,
				Send(fmt.Sprintf("mkdir -p %s", share.GuestPath)),
				Expect("~#", LoginTimeout),
				Send(fmt.Sprintf("mount --bind /mnt/shared/%s %s", tag, share.GuestPath)),
				Expect("~#", LoginTimeout),
			)
		}
	}

	if script := mount.RenderLinkScript(links, sshUser); script != "" {
		actions = append(actions, Send(script), Expect("~#", LoginTimeout))
	}

	if resizeScript != "" {
		actions = append(actions, Send(resizeScript), Expect("~#", LoginTimeout))
	}

	return actions
}
