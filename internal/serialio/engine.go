package serialio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// VmInputKind distinguishes the two message types the guest-input writer
// thread accepts.
type VmInputKind int

const (
	VmInputBytes VmInputKind = iota
	VmInputShutdown
)

// VmInput is a message enqueued for delivery to the guest, or a request to
// stop the guest-input writer thread.
type VmInput struct {
	Kind VmInputKind
	Data []byte
}

// OnLine is called once per candidate command line read from stdin when it
// begins with ':' (see spec.md §4.5 point 3). Returning true consumes the
// line; returning false forwards it to the guest unchanged.
type OnLine func(candidate string) bool

// OnOutput is called with every chunk of raw guest output, after it is
// appended to the OutputMonitor.
type OnOutput func(chunk []byte)

// Engine owns the four cooperating serial I/O threads and the wakeup pipe
// that cancels all of them in one shot.
type Engine struct {
	monitor *OutputMonitor
	control *IOControl

	guestOutputRead  *os.File // guest writes, host reads
	guestInputWrite  *os.File // host writes, guest reads
	wakeupRead       *os.File
	wakeupWrite      *os.File

	inputCh  chan VmInput
	stdoutCh chan []byte

	stdin  io.Reader
	stdout io.Writer

	onLine   OnLine
	onOutput OnOutput

	done chan struct{}
}

// New builds an Engine around the host-side serial pipe ends. stdin/stdout
// default to os.Stdin/os.Stdout when nil; the supervisor passes a
// discarding stdout, so guest output reaches only the monitor and onOutput.
func New(guestOutputRead, guestInputWrite *os.File, stdin io.Reader, stdout io.Writer, onLine OnLine, onOutput OnOutput) (*Engine, error) {
	wakeupRead, wakeupWrite, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if onLine == nil {
		onLine = func(string) bool { return false }
	}
	if onOutput == nil {
		onOutput = func([]byte) {}
	}

	return &Engine{
		monitor:         NewOutputMonitor(),
		control:         NewIOControl(),
		guestOutputRead: guestOutputRead,
		guestInputWrite: guestInputWrite,
		wakeupRead:      wakeupRead,
		wakeupWrite:     wakeupWrite,
		inputCh:         make(chan VmInput, 64),
		stdoutCh:        make(chan []byte, 64),
		stdin:           stdin,
		stdout:          stdout,
		onLine:          onLine,
		onOutput:        onOutput,
		done:            make(chan struct{}),
	}, nil
}

// Monitor returns the shared output buffer the login scheduler waits on.
func (e *Engine) Monitor() *OutputMonitor { return e.monitor }

// Control returns the forwarding switches for the stdin/stdout threads.
func (e *Engine) Control() *IOControl { return e.control }

// Send enqueues bytes for delivery to the guest. A trailing newline is not
// added; callers that want a line should add it themselves.
func (e *Engine) Send(data []byte) {
	select {
	case e.inputCh <- VmInput{Kind: VmInputBytes, Data: data}:
	case <-e.done:
	}
}

// Shutdown stops the guest-input writer thread and wakes every poller.
func (e *Engine) Shutdown() {
	select {
	case e.inputCh <- VmInput{Kind: VmInputShutdown}:
	default:
	}
	e.wakeup()
}

// Close signals every thread to exit: the wakeup FD unblocks the three
// poll-based threads, and a Shutdown message unblocks the guest-input
// writer, which otherwise blocks on an empty channel receive.
func (e *Engine) Close() {
	e.Shutdown()
}

func (e *Engine) wakeup() {
	_, _ = e.wakeupWrite.Write([]byte{0})
}

// Run starts the four cooperating threads and blocks until all have
// exited, i.e. until Close/Shutdown is called or the guest pipes report
// EOF.
func (e *Engine) Run() {
	var outputDone, inputDone, stdinDone, stdoutDone = make(chan struct{}), make(chan struct{}), make(chan struct{}), make(chan struct{})

	go e.runGuestOutputReader(outputDone)
	go e.runGuestInputWriter(inputDone)
	go e.runStdinForwarder(stdinDone)
	go e.runStdoutForwarder(stdoutDone)

	<-outputDone
	e.Shutdown()
	<-inputDone
	<-stdinDone
	<-stdoutDone
	close(e.done)
}

// pollWithWakeup blocks until mainFD or wakeupFD is readable (or
// timeoutMs elapses, for -1 meaning block indefinitely). It mirrors
// original_source/src/vm.rs's poll_with_wakeup.
func pollWithWakeup(mainFD, wakeupFD int, buf []byte, timeoutMs int) (n int, shutdown bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(mainFD), Events: unix.POLLIN},
		{Fd: int32(wakeupFD), Events: unix.POLLIN},
	}
	ret, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if ret == 0 {
		return 0, false, nil
	}
	if fds[1].Revents&unix.POLLIN != 0 {
		return 0, true, nil
	}
	if fds[0].Revents&unix.POLLIN != 0 {
		n, err = unix.Read(mainFD, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				return 0, false, nil
			}
			return 0, false, err
		}
		if n == 0 {
			return 0, true, nil
		}
		return n, false, nil
	}
	return 0, false, nil
}

func pollWakeupOnly(wakeupFD int, timeoutMs int) bool {
	fds := []unix.PollFd{{Fd: int32(wakeupFD), Events: unix.POLLIN}}
	ret, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return false
	}
	return ret > 0 && fds[0].Revents&unix.POLLIN != 0
}

// runGuestOutputReader implements spec.md §4.5 thread 1. It is the sole
// reader of guestOutputRead; the stdout forwarder (thread 4) receives a
// copy of each chunk over stdoutCh rather than polling the same fd, since
// a pipe only has one reader.
func (e *Engine) runGuestOutputReader(done chan<- struct{}) {
	defer close(done)
	defer close(e.stdoutCh)
	buf := make([]byte, 4096)
	fd := int(e.guestOutputRead.Fd())
	wakeupFD := int(e.wakeupRead.Fd())

	for {
		n, shutdown, err := pollWithWakeup(fd, wakeupFD, buf, -1)
		if shutdown || err != nil {
			return
		}
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			e.monitor.Push(chunk)
			e.onOutput(chunk)
			select {
			case e.stdoutCh <- chunk:
			default:
			}
		}
	}
}

// runGuestInputWriter implements spec.md §4.5 thread 2.
func (e *Engine) runGuestInputWriter(done chan<- struct{}) {
	defer close(done)
	for msg := range e.inputCh {
		if msg.Kind == VmInputShutdown {
			return
		}
		if _, err := e.guestInputWrite.Write(msg.Data); err != nil {
			return
		}
	}
}

// runStdinForwarder implements spec.md §4.5 thread 3.
func (e *Engine) runStdinForwarder(done chan<- struct{}) {
	defer close(done)
	stdinFD, isFile := fdOf(e.stdin)
	wakeupFD := int(e.wakeupRead.Fd())

	buf := make([]byte, 1024)
	var pendingCommand bytes.Buffer
	commandMode := false
	atLineStart := true

	for {
		if !e.control.ForwardInput() {
			if isFile && pollWakeupOnly(wakeupFD, 100) {
				return
			}
			if !isFile {
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		var n int
		var shutdown bool
		var err error
		if isFile {
			n, shutdown, err = pollWithWakeup(stdinFD, wakeupFD, buf, -1)
		} else {
			n, err = e.stdin.Read(buf)
		}
		if shutdown || err != nil {
			return
		}
		if n == 0 {
			continue
		}

		var sendBuf bytes.Buffer
		for i := 0; i < n; i++ {
			b := buf[i]
			if atLineStart && pendingCommand.Len() == 0 && !commandMode && b == ':' {
				commandMode = true
			}
			if commandMode {
				pendingCommand.WriteByte(b)
			} else {
				sendBuf.WriteByte(b)
			}
			if b == '\n' && commandMode {
				line := pendingCommand.String()
				for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
					line = line[:len(line)-1]
				}
				if !e.onLine(line) {
					sendBuf.Write(pendingCommand.Bytes())
				}
				pendingCommand.Reset()
				commandMode = false
			}
			atLineStart = b == '\n'
		}
		if sendBuf.Len() > 0 {
			e.Send(sendBuf.Bytes())
		}
	}
}

// runStdoutForwarder implements spec.md §4.5 thread 4: it receives chunks
// already read by the guest-output reader over stdoutCh (pipes have a
// single reader) and owns the terminal-raw-mode lifecycle independently.
func (e *Engine) runStdoutForwarder(done chan<- struct{}) {
	defer close(done)
	wakeupFD := int(e.wakeupRead.Fd())
	stdinFD, isTerm := fdOf(e.stdin)

	var restore *term.State
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.control.TakeRestoreTerminal() && restore != nil {
			_ = term.Restore(stdinFD, restore)
			restore = nil
		}

		select {
		case chunk, ok := <-e.stdoutCh:
			if !ok {
				return
			}
			if !e.control.ForwardOutput() {
				continue
			}
			if restore == nil && isTerm && term.IsTerminal(stdinFD) {
				if state, err := term.MakeRaw(stdinFD); err == nil {
					restore = state
				}
			}
			if _, err := e.stdout.Write(chunk); err != nil {
				return
			}
		case <-ticker.C:
			if pollWakeupOnly(wakeupFD, 0) {
				return
			}
		}
	}
}

func fdOf(r io.Reader) (int, bool) {
	if f, ok := r.(*os.File); ok {
		return int(f.Fd()), true
	}
	return -1, false
}
