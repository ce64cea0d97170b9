package diskprep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func TestEnsureInstanceDiskClonesWhenSizeFits(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "default.raw")
	instance := filepath.Join(dir, "instance.raw")
	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(template, content, 0o644))

	resize, err := EnsureInstanceDisk(testLogger(), template, instance, int64(len(content)))
	require.NoError(t, err)
	assert.False(t, resize)

	got, err := os.ReadFile(instance)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEnsureInstanceDiskStreamsSparseCopyWhenLarger(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "default.raw")
	instance := filepath.Join(dir, "instance.raw")
	content := []byte("not-all-zero-content")
	require.NoError(t, os.WriteFile(template, content, 0o644))

	targetSize := int64(len(content)) + (10 << 20)
	resize, err := EnsureInstanceDisk(testLogger(), template, instance, targetSize)
	require.NoError(t, err)
	assert.True(t, resize)

	info, err := os.Stat(instance)
	require.NoError(t, err)
	assert.Equal(t, targetSize, info.Size())

	got := make([]byte, len(content))
	f, err := os.Open(instance)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Read(got)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEnsureInstanceDiskPreservesExistingDiskOfDifferentSize(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "default.raw")
	instance := filepath.Join(dir, "instance.raw")
	require.NoError(t, os.WriteFile(template, []byte("template"), 0o644))
	require.NoError(t, os.WriteFile(instance, []byte("existing-untouched"), 0o644))

	resize, err := EnsureInstanceDisk(testLogger(), template, instance, 99999)
	require.NoError(t, err)
	assert.False(t, resize)

	got, err := os.ReadFile(instance)
	require.NoError(t, err)
	assert.Equal(t, []byte("existing-untouched"), got)
}

// TestScenarioS6ProvisionFailureCleansUp mirrors spec.md scenario S6.
func TestScenarioS6ProvisionFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	cache := CacheDir{Dir: dir}
	require.NoError(t, os.WriteFile(cache.DefaultImagePath(), []byte("partial"), 0o644))

	require.NoError(t, RemovePartialDefaultImage(cache))

	_, err := os.Stat(cache.DefaultImagePath())
	assert.True(t, os.IsNotExist(err))
}

func TestArchiveAndRestoreDefaultImageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cache := CacheDir{Dir: dir}
	content := []byte("provisioned-template-bytes")
	require.NoError(t, os.WriteFile(cache.DefaultImagePath(), content, 0o644))

	require.NoError(t, ArchiveDefaultImage(cache))
	_, err := os.Stat(cache.CompressedImagePath())
	require.NoError(t, err)

	require.NoError(t, os.Remove(cache.DefaultImagePath()))
	err = RestoreDefaultImageIfNeeded(testLogger(), cache)
	require.NoError(t, err)

	got, err := os.ReadFile(cache.DefaultImagePath())
	require.NoError(t, err)
	assert.Equal(t, content, got)

	recorded, ok, err := ReadRecordedDigest(cache.DefaultImagePath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, digest.FromBytes(content), recorded)
}
