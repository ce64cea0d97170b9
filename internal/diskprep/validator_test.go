package diskprep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFileWithDigestSucceedsForMatchingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.raw")
	content := []byte("template content")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	d := digest.FromBytes(content)
	require.NoError(t, ValidateFileWithDigest(testLogger(), path, d))
}

func TestValidateFileWithDigestFailsForMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.raw")
	require.NoError(t, os.WriteFile(path, []byte("actual"), 0o644))

	err := ValidateFileWithDigest(testLogger(), path, digest.FromBytes([]byte("expected")))
	assert.Error(t, err)
}

func TestValidateFileWithDigestUsesCachedSidecarWhenFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.raw")
	content := []byte("template content")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	d := digest.FromBytes(content)
	require.NoError(t, ComputeAndVerifyFileDigest(path, d))

	require.NoError(t, ValidateFileWithDigest(testLogger(), path, d))
}
