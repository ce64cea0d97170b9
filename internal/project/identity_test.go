package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentityCreatesThenReloads(t *testing.T) {
	paths := newTestPaths(t)

	first, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(first.ID))
	assert.Equal(t, DefaultSSHUser, first.SSHUser)
	assert.NotEmpty(t, first.SudoPassword)
	assert.Empty(t, first.VMIPv4)

	second, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.SSHUser, second.SSHUser)
	assert.Equal(t, first.SudoPassword, second.SudoPassword)
	assert.Empty(t, second.VMIPv4)
}

func TestLoadOrCreateIdentityClearsStoredIPv4(t *testing.T) {
	paths := newTestPaths(t)

	id, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)

	changed, err := SetVMIPv4(paths, &id, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, changed)

	reloaded, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)
	assert.Empty(t, reloaded.VMIPv4)
}

func TestSetVMIPv4OnlyWritesWhenChanged(t *testing.T) {
	paths := newTestPaths(t)
	id, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)

	changed, err := SetVMIPv4(paths, &id, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = SetVMIPv4(paths, &id, "10.0.0.5")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTouchLastActiveUpdatesTimestamp(t *testing.T) {
	paths := newTestPaths(t)
	id, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)
	assert.Nil(t, id.LastActive)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, TouchLastActive(paths, &id, now))
	require.NotNil(t, id.LastActive)
	assert.True(t, id.LastActive.Equal(now))

	reloaded, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastActive)
	assert.True(t, reloaded.LastActive.Equal(now))
}

// TestSaveIdentityLeavesNoTempFile covers spec.md invariant 9: instance.toml
// writes go through a temp file in the same directory, synced and renamed
// into place, so a concurrent reader never observes a partial document and
// no stray temp file survives a successful save.
func TestSaveIdentityLeavesNoTempFile(t *testing.T) {
	paths := newTestPaths(t)
	id, err := LoadOrCreateIdentity(paths)
	require.NoError(t, err)

	require.NoError(t, SaveIdentity(paths, id))

	entries, err := os.ReadDir(paths.State)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "stray temp file left behind: %s", e.Name())
	}

	_, err = os.Stat(filepath.Join(paths.State, "instance.toml"))
	assert.NoError(t, err)
}
