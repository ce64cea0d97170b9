// Package serialio drives the guest serial console: a shared output buffer
// with blocking-wait semantics, cooperative-cancellation I/O threads, and a
// line-wise sentinel parser. Grounded on original_source/src/vm.rs's
// OutputMonitor/IoControl/spawn_vm_io family and on
// other_examples/59fa81c5_royisme-vibebox...darwin.go.go's readConsoleLoop,
// translated into goroutines plus a wakeup-pipe poll loop per spec.md §4.5.
package serialio

import (
	"strings"
	"sync"
	"time"
)

// WaitResult is the outcome of a bounded OutputMonitor wait.
type WaitResult int

const (
	Found WaitResult = iota
	TimedOut
)

// OutputMonitor is a condition-variable-gated rolling text buffer fed by
// the guest-output reader thread. Waiters block until a needle appears,
// consuming everything up to and including the first match.
type OutputMonitor struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  strings.Builder
}

// NewOutputMonitor returns an empty monitor ready to receive pushes.
func NewOutputMonitor() *OutputMonitor {
	m := &OutputMonitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Push appends bytes to the buffer and wakes every waiter. Called only
// from the guest-output reader thread.
func (m *OutputMonitor) Push(data []byte) {
	m.mu.Lock()
	m.buf.Write(data)
	m.mu.Unlock()
	m.cond.Broadcast()
}

// WaitFor blocks until the buffer contains needle or timeout elapses. On a
// match, everything up to and including the first occurrence is dropped
// from the buffer.
func (m *OutputMonitor) WaitFor(needle string, timeout time.Duration) WaitResult {
	idx, result := m.WaitForAny([]string{needle}, timeout)
	_ = idx
	return result
}

// WaitForAny blocks until the buffer contains any of needles, returning the
// index of whichever needle appears earliest in the buffer (ties broken by
// list order), consuming everything up to and including it. Returns
// (-1, TimedOut) if no needle appears before the deadline.
func (m *OutputMonitor) WaitForAny(needles []string, timeout time.Duration) (int, WaitResult) {
	deadline := time.Now().Add(timeout)

	timer := time.AfterFunc(timeout, m.cond.Broadcast)
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if idx, pos, ok := earliestMatch(m.buf.String(), needles); ok {
			rest := m.buf.String()[pos+len(needles[idx]):]
			m.buf.Reset()
			m.buf.WriteString(rest)
			return idx, Found
		}
		if !time.Now().Before(deadline) {
			return -1, TimedOut
		}
		m.cond.Wait()
	}
}

func earliestMatch(buf string, needles []string) (idx int, pos int, ok bool) {
	bestIdx, bestPos := -1, -1
	for i, needle := range needles {
		if needle == "" {
			continue
		}
		if p := strings.Index(buf, needle); p >= 0 {
			if bestPos == -1 || p < bestPos {
				bestPos, bestIdx = p, i
			}
		}
	}
	if bestIdx == -1 {
		return 0, 0, false
	}
	return bestIdx, bestPos, true
}
