package serialio

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoopbackEngine wires an Engine to in-process pipes standing in for
// the guest's serial device: guestWritesOut simulates the guest emitting
// console output, and guestReadsIn lets the test observe what the guest
// would have received.
func newLoopbackEngine(t *testing.T, onLine OnLine, onOutput OnOutput) (*Engine, *os.File, *os.File) {
	t.Helper()
	outRead, outWrite, err := os.Pipe()
	require.NoError(t, err)
	inRead, inWrite, err := os.Pipe()
	require.NoError(t, err)

	e, err := New(outRead, inWrite, &bytes.Buffer{}, io.Discard, onLine, onOutput)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = outRead.Close()
		_ = outWrite.Close()
		_ = inRead.Close()
		_ = inWrite.Close()
	})

	return e, outWrite, inRead
}

func TestEngineGuestOutputReachesMonitorAndHook(t *testing.T) {
	var mu sync.Mutex
	var seen []byte

	e, guestOut, _ := newLoopbackEngine(t, nil, func(chunk []byte) {
		mu.Lock()
		seen = append(seen, chunk...)
		mu.Unlock()
	})

	runDone := make(chan struct{})
	go func() {
		e.Run()
		close(runDone)
	}()

	_, err := guestOut.Write([]byte("login: "))
	require.NoError(t, err)

	result := e.Monitor().WaitFor("login: ", time.Second)
	assert.Equal(t, Found, result)

	e.Close()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("engine did not shut down after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "login: ", string(seen))
}

func TestEngineSendDeliversBytesToGuestInput(t *testing.T) {
	e, _, guestIn := newLoopbackEngine(t, nil, nil)

	runDone := make(chan struct{})
	go func() {
		e.Run()
		close(runDone)
	}()

	e.Send([]byte("root\n"))

	buf := make([]byte, 5)
	_, err := io.ReadFull(guestIn, buf)
	require.NoError(t, err)
	assert.Equal(t, "root\n", string(buf))

	e.Close()
	<-runDone
}
