package io_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vibebox/vibebox/internal/io"
)

func TestDiscardWriteCloser_Write(t *testing.T) {
	dwc := &io.DiscardWriteCloser{}
	n, err := dwc.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDiscardWriteCloser_Close(t *testing.T) {
	dwc := &io.DiscardWriteCloser{}
	assert.NoError(t, dwc.Close())
}
