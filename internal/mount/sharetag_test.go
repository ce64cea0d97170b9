package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShareTagIsDeterministic(t *testing.T) {
	a := ShareTag("/Users/dev/project")
	b := ShareTag("/Users/dev/project")
	assert.Equal(t, a, b)
}

func TestShareTagDiffersByPath(t *testing.T) {
	assert.NotEqual(t, ShareTag("/Users/dev/project-a"), ShareTag("/Users/dev/project-b"))
}

func TestShareTagUsesBasenameAndSixteenHexDigits(t *testing.T) {
	tag := ShareTag("/Users/dev/project")
	assert.Regexp(t, `^project_[0-9a-f]{16}$`, tag)
}

func TestShareTagFallsBackToShareForRootPath(t *testing.T) {
	tag := ShareTag("/")
	assert.Regexp(t, `^share_[0-9a-f]{16}$`, tag)
}
