package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS8MountTranslation mirrors spec.md scenario S8.
func TestScenarioS8MountTranslation(t *testing.T) {
	shares, links, err := Translate([]string{"/src/foo:~/foo:read-write"}, "vibecoder", "/Users/tester")
	require.NoError(t, err)

	require.Len(t, shares, 1)
	assert.Equal(t, "/src/foo", shares[0].HostPath)
	assert.Equal(t, "/usr/local/vibebox-mounts/foo", shares[0].GuestPath)
	assert.Equal(t, ReadWrite, shares[0].Mode)

	require.Len(t, links, 1)
	assert.Equal(t, "/usr/local/vibebox-mounts/foo", links[0].Source)
	assert.Equal(t, "/home/vibecoder/foo", links[0].Target)
}

func TestTranslateNonHomeGuestPathIsUnchanged(t *testing.T) {
	shares, links, err := Translate([]string{"/src/data:/opt/data"}, "vibecoder", "/Users/tester")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "/opt/data", shares[0].GuestPath)
	assert.Empty(t, links)
}

func TestTranslateBareHomeShorthand(t *testing.T) {
	shares, links, err := Translate([]string{"/src/home:~"}, "vibecoder", "/Users/tester")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "/usr/local/vibebox-mounts", shares[0].GuestPath)
	require.Len(t, links, 1)
	assert.Equal(t, "/home/vibecoder", links[0].Target)
}

func TestTranslateRejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"too few parts", "/src/foo"},
		{"too many parts", "/src/foo:~/foo:read-write:extra"},
		{"bad mode", "/src/foo:~/foo:bogus"},
		{"empty host", ":~/foo"},
		{"empty guest", "/src/foo:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Translate([]string{tt.spec}, "vibecoder", "/Users/tester")
			assert.Error(t, err)
		})
	}
}

func TestEnsureProjectMountAddsDefaultWhenAbsent(t *testing.T) {
	specs := EnsureProjectMount(nil, "/Users/tester/myproj", "myproj", "vibecoder")
	require.Len(t, specs, 1)
	assert.Equal(t, "/Users/tester/myproj:~/myproj", specs[0])
}

func TestEnsureProjectMountSkipsWhenEquivalentPresent(t *testing.T) {
	existing := []string{"/Users/tester/myproj:/home/vibecoder/myproj"}
	specs := EnsureProjectMount(existing, "/Users/tester/myproj", "myproj", "vibecoder")
	assert.Equal(t, existing, specs)
}

func TestRenderLinkScriptEmptyWhenNoLinks(t *testing.T) {
	assert.Empty(t, RenderLinkScript(nil, "vibecoder"))
}

func TestRenderLinkScriptEscapesAndInvokes(t *testing.T) {
	links := []HomeLink{{Source: "/usr/local/vibebox-mounts/foo", Target: "/home/vibecoder/foo"}}
	script := RenderLinkScript(links, "vibecoder")
	assert.Contains(t, script, "link_home() {")
	assert.Contains(t, script, "link_home '/usr/local/vibebox-mounts/foo' '/home/vibecoder/foo'")
	assert.Contains(t, script, `chown -h "vibecoder:vibecoder"`)
}

func TestShellEscapeHandlesEmbeddedQuote(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, shellEscape("it's"))
}
