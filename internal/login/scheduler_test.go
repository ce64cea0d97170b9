package login

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebox/vibebox/internal/mount"
	"github.com/vibebox/vibebox/internal/serialio"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(data []byte) {
	f.sent = append(f.sent, string(data))
}

func TestSchedulerRunsStandardPreludeAgainstGuestOutput(t *testing.T) {
	monitor := serialio.NewOutputMonitor()
	sender := &fakeSender{}
	scheduler := NewScheduler(monitor, sender)

	actions := StandardPrelude(nil, nil, "vibecoder", "")

	done := make(chan error, 1)
	go func() { done <- scheduler.Run(actions) }()

	monitor.Push([]byte("Debian GNU/Linux\nmyhost login: "))
	time.Sleep(10 * time.Millisecond)
	monitor.Push([]byte("root\nLast login\n~# "))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not complete")
	}

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "root\n", sender.sent[0])
}

func TestSchedulerWithDirectoryShareMountsAndLinks(t *testing.T) {
	monitor := serialio.NewOutputMonitor()
	sender := &fakeSender{}
	scheduler := NewScheduler(monitor, sender)

	shares := []mount.Share{{HostPath: "/Users/dev/project", GuestPath: "/usr/local/vibebox-mounts/project", Mode: mount.ReadWrite}}
	links := []mount.HomeLink{{Source: "/usr/local/vibebox-mounts/project", Target: "/home/vibecoder/project"}}
	actions := StandardPrelude(shares, links, "vibecoder", "")

	done := make(chan error, 1)
	go func() { done <- scheduler.Run(actions) }()

	monitor.Push([]byte("login: "))
	for i := 0; i < 20; i++ {
		time.Sleep(5 * time.Millisecond)
		monitor.Push([]byte("~# "))
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not complete")
	}

	require.NotEmpty(t, sender.sent)
	assert.Contains(t, sender.sent, "mount -t virtiofs shared /mnt/shared\n")

	expectedBindMount := "mount --bind /mnt/shared/" + mount.ShareTag(shares[0].HostPath) + " " + shares[0].GuestPath + "\n"
	assert.Contains(t, sender.sent, expectedBindMount)

	expectedLinkScript := mount.RenderLinkScript(links, "vibecoder") + "\n"
	assert.Contains(t, sender.sent, expectedLinkScript)
}

func TestSchedulerFailsOnExpectTimeout(t *testing.T) {
	monitor := serialio.NewOutputMonitor()
	sender := &fakeSender{}
	scheduler := NewScheduler(monitor, sender)

	err := scheduler.Run([]Action{Expect("login: ", 20 * time.Millisecond)})
	require.Error(t, err)
	failure, ok := err.(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureTimeout, failure.Kind)
}

func TestSchedulerFailsOnExpectEitherFailureMarker(t *testing.T) {
	monitor := serialio.NewOutputMonitor()
	sender := &fakeSender{}
	scheduler := NewScheduler(monitor, sender)

	monitor.Push([]byte("VIBEBOX_PROVISION_FAILED"))

	err := scheduler.Run([]Action{
		ExpectEither("VIBEBOX_PROVISION_OK", "VIBEBOX_PROVISION_FAILED", time.Second),
	})
	require.Error(t, err)
	failure, ok := err.(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureMarker, failure.Kind)
}

func TestSchedulerSendAppendsNewline(t *testing.T) {
	monitor := serialio.NewOutputMonitor()
	sender := &fakeSender{}
	scheduler := NewScheduler(monitor, sender)

	require.NoError(t, scheduler.Run([]Action{Send("echo hi")}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "echo hi\n", sender.sent[0])
}
