package serialio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineRecognizesIPv4Sentinel(t *testing.T) {
	ev, ok := ParseLine("  VIBEBOX_IPV4=192.168.64.12 trailing text")
	require.True(t, ok)
	assert.Equal(t, EventIPv4Discovered, ev.Kind)
	assert.Equal(t, "192.168.64.12", ev.IPv4)
}

func TestParseLineRejectsInvalidIPv4Token(t *testing.T) {
	_, ok := ParseLine("VIBEBOX_IPV4=not-an-address")
	assert.False(t, ok)
}

func TestParseLineRecognizesSSHReady(t *testing.T) {
	ev, ok := ParseLine("\r VIBEBOX_SSH_READY")
	require.True(t, ok)
	assert.Equal(t, EventSSHReady, ev.Kind)
}

func TestParseLineRecognizesProvisionOutcomes(t *testing.T) {
	ev, ok := ParseLine("VIBEBOX_PROVISION_OK")
	require.True(t, ok)
	assert.Equal(t, EventProvisionOK, ev.Kind)

	ev, ok = ParseLine("VIBEBOX_PROVISION_FAILED")
	require.True(t, ok)
	assert.Equal(t, EventProvisionFailed, ev.Kind)
}

func TestParseLineRecognizesScriptError(t *testing.T) {
	ev, ok := ParseLine("VIBEBOX_SCRIPT_ERROR:provision:42:1")
	require.True(t, ok)
	assert.Equal(t, EventScriptError, ev.Kind)
	assert.Equal(t, "provision", ev.ScriptLabel)
	assert.Equal(t, 42, ev.ScriptLine)
	assert.Equal(t, 1, ev.ScriptRC)
}

func TestParseLineIgnoresUnrecognizedText(t *testing.T) {
	_, ok := ParseLine("just some shell banner")
	assert.False(t, ok)
}

// TestLineScannerReassemblesIPv4AcrossSplitChunks covers the parsing half
// of spec.md scenario S5: a sentinel line split across two Feed calls, as a
// serial reader might deliver it, yields exactly one event once the line is
// complete. The scanner does not deduplicate: a repeated line yields another
// event, and project.SetVMIPv4 is what skips the unchanged write.
func TestLineScannerReassemblesIPv4AcrossSplitChunks(t *testing.T) {
	var scanner LineScanner

	events := scanner.Feed([]byte("VIBEBOX_IPV"))
	assert.Empty(t, events)

	events = scanner.Feed([]byte("4=10.0.2.15\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventIPv4Discovered, events[0].Kind)
	assert.Equal(t, "10.0.2.15", events[0].IPv4)

	events = scanner.Feed([]byte("VIBEBOX_IPV4=10.0.2.15\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "10.0.2.15", events[0].IPv4)
}

func TestLineScannerHandlesMultipleSentinelsInOneFeed(t *testing.T) {
	var scanner LineScanner
	events := scanner.Feed([]byte("VIBEBOX_IPV4=172.16.0.5\nVIBEBOX_SSH_READY\nVIBEBOX_PROVISION_OK\n"))
	require.Len(t, events, 3)
	assert.Equal(t, EventIPv4Discovered, events[0].Kind)
	assert.Equal(t, EventSSHReady, events[1].Kind)
	assert.Equal(t, EventProvisionOK, events[2].Kind)
}
