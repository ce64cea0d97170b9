package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesBoxAndSupervisorTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vibebox.toml")
	writeFile(t, path, `
[box]
cpu_count = 4
ram_mb = 4096
disk_gb = 40
mounts = ["/src/foo:~/foo:read-write"]

[supervisor]
auto_shutdown_ms = 30000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint(4), cfg.Box.CPUCount)
	assert.Equal(t, uint64(4096), cfg.Box.RAMMB)
	assert.Equal(t, uint64(40), cfg.Box.DiskGB)
	assert.Equal(t, []string{"/src/foo:~/foo:read-write"}, cfg.Box.Mounts)
	assert.Equal(t, uint64(30000), cfg.Supervisor.AutoShutdownMS)

	assert.Equal(t, uint64(4096*1024*1024), cfg.Box.RAMBytes())
	assert.Equal(t, int64(40*1024*1024*1024), cfg.Box.DiskBytes())
}

func TestLoadRejectsZeroCPUCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vibebox.toml")
	writeFile(t, path, `
[box]
cpu_count = 0
ram_mb = 2048
disk_gb = 20
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOrDefaultReturnsDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vibebox.toml")

	cfg, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
