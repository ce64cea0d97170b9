// Package vminstance wraps a vz.VirtualMachine with the lifecycle the
// supervisor needs: state-change tracking, a start handshake with a
// deadline, and termination bookkeeping. Adapted from the teacher's
// pkg/vm/instance.go (kept: the StateChangedNotify consumer goroutine,
// CreatedAt/StartedAt/FinishedAt bookkeeping, force-stop-then-cleanup
// shape). ARP/tcpdump IP discovery is dropped: the IPv4 address now comes
// from the guest's serial sentinel line (internal/serialio), not from the
// host network stack. Tracing spans and virtual-kubelet's log.G wrapper
// are replaced with a bare *logrus.Entry.
package vminstance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Code-Hex/vz/v3"
	"github.com/sirupsen/logrus"
)

// StartTimeout bounds how long Start waits for the vz state-change
// notification to report VirtualMachineStateRunning, per spec.md §4.4's
// start handshake.
const StartTimeout = 60 * time.Second

// Instance wraps a running virtual machine and tracks its lifecycle.
//
// vz.VirtualMachine.StateChangedNotify() returns a single shared channel:
// each state event is delivered to exactly one waiting receiver, so only
// handleStateChanges may ever read from it. Start does not read the
// channel itself; it waits on runningCh/startErrCh instead, which
// handleStateChanges signals.
type Instance struct {
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	log *logrus.Entry

	runningOnce sync.Once
	runningCh   chan struct{}
	startErrCh  chan error

	// OnExit, if set, is invoked once from handleStateChanges when the VM
	// reaches a terminal state (Stopped or Error); err is non-nil only for
	// the error state. The supervisor event loop uses this to inject
	// EventVMExited.
	OnExit func(err error)

	*vz.VirtualMachine
}

// New wraps a configured vz.VirtualMachine and begins tracking its state
// changes in the background.
func New(ctx context.Context, config *vz.VirtualMachineConfiguration, log *logrus.Entry) (*Instance, error) {
	vm, err := vz.NewVirtualMachine(config)
	if err != nil {
		return nil, fmt.Errorf("creating virtual machine: %w", err)
	}

	instance := &Instance{
		CreatedAt:      time.Now(),
		log:            log,
		runningCh:      make(chan struct{}),
		startErrCh:     make(chan error, 1),
		VirtualMachine: vm,
	}

	go instance.handleStateChanges(ctx)

	return instance, nil
}

func (i *Instance) handleStateChanges(ctx context.Context) {
	for {
		select {
		case state, ok := <-i.StateChangedNotify():
			if !ok {
				return
			}
			switch state {
			case vz.VirtualMachineStateRunning:
				now := time.Now()
				i.StartedAt = &now
				i.log.Debug("virtual machine is running")
				i.runningOnce.Do(func() { close(i.runningCh) })
			case vz.VirtualMachineStateStopped:
				now := time.Now()
				i.FinishedAt = &now
				i.log.Debug("virtual machine has stopped")
				if i.OnExit != nil {
					i.OnExit(nil)
				}
				return
			case vz.VirtualMachineStateError:
				now := time.Now()
				i.FinishedAt = &now
				i.log.Warn("virtual machine entered an error state")
				select {
				case i.startErrCh <- fmt.Errorf("virtual machine entered an error state"):
				default:
				}
				if i.OnExit != nil {
					i.OnExit(fmt.Errorf("virtual machine entered an error state"))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Start starts the virtual machine and waits up to StartTimeout for
// handleStateChanges to observe the running state. It does not wait for the
// guest to finish booting: that is the login scheduler's job, driven off
// the serial console, per spec.md §4.6.
func (i *Instance) Start(ctx context.Context) error {
	if !i.CanStart() {
		return fmt.Errorf("virtual machine cannot start in current state: %v", i.State())
	}

	if err := i.VirtualMachine.Start(); err != nil {
		return fmt.Errorf("starting virtual machine: %w", err)
	}

	deadline, cancel := context.WithTimeout(ctx, StartTimeout)
	defer cancel()

	select {
	case <-i.runningCh:
		return nil
	case err := <-i.startErrCh:
		return fmt.Errorf("virtual machine entered an error state while starting: %w", err)
	case <-deadline.Done():
		return fmt.Errorf("timed out waiting for virtual machine to report running state")
	}
}

// RequestStop asks the guest to shut down gracefully via the hypervisor's
// own stop request. The supervisor calls it when the login sequence fails;
// the hard shutdown deadline does not go through it (the event loop exits
// the process instead).
func (i *Instance) RequestStop() error {
	if i.State() == vz.VirtualMachineStateStopped {
		return nil
	}
	if !i.CanRequestStop() {
		return fmt.Errorf("virtual machine cannot accept a stop request in current state: %v", i.State())
	}
	_, err := i.VirtualMachine.RequestStop()
	return err
}

// ForceStop immediately stops the virtual machine. The supervisor uses it
// to tear down the throwaway provisioning VM once its session ends.
func (i *Instance) ForceStop() error {
	if i.State() == vz.VirtualMachineStateStopped {
		return nil
	}
	if !i.CanStop() {
		return fmt.Errorf("virtual machine cannot be stopped in current state: %v", i.State())
	}
	return i.VirtualMachine.Stop()
}
