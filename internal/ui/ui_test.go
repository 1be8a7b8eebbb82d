package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if assert.NoError(t, err) {
		defer func() { _ = f.Close() }()
		assert.False(t, IsTTY(f), "regular files are not terminals")
	}
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.True(t, DetectNoColor(), "presence is enough, even when empty")
}

func TestPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, PlainOutput(&buf, false), "buffers are never styled")
	assert.True(t, PlainOutput(os.Stdout, true), "--no-color wins")
}
