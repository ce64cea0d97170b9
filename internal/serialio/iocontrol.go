package serialio

import "sync/atomic"

// IOControl gates the stdin/stdout forwarder threads without locks,
// ported from original_source/src/vm.rs's IoControl (AtomicBool fields
// become atomic.Bool here).
type IOControl struct {
	forwardInput    atomic.Bool
	forwardOutput   atomic.Bool
	restoreTerminal atomic.Bool
}

// NewIOControl returns a control block with input and output forwarding
// both enabled, matching the IoControl::new default.
func NewIOControl() *IOControl {
	c := &IOControl{}
	c.forwardInput.Store(true)
	c.forwardOutput.Store(true)
	return c
}

func (c *IOControl) SetForwardInput(enabled bool)  { c.forwardInput.Store(enabled) }
func (c *IOControl) SetForwardOutput(enabled bool) { c.forwardOutput.Store(enabled) }
func (c *IOControl) ForwardInput() bool            { return c.forwardInput.Load() }
func (c *IOControl) ForwardOutput() bool           { return c.forwardOutput.Load() }

// RequestTerminalRestore asks the stdout forwarder to take the terminal
// out of raw mode at its next opportunity.
func (c *IOControl) RequestTerminalRestore() { c.restoreTerminal.Store(true) }

// TakeRestoreTerminal atomically consumes a pending restore request.
func (c *IOControl) TakeRestoreTerminal() bool {
	return c.restoreTerminal.CompareAndSwap(true, false)
}
