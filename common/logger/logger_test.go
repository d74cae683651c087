package logger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	SetDebug(false)
	assert.NotNil(t, Logger)
}

func TestSetupLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()

	setupLogOnce = sync.Once{}
	LogDir = dir
	OnlyOneLogFile = true
	SetupLogger()

	// gin writers now mirror to the configured directory; SetupLogger opens
	// the file with O_CREATE, so it exists already.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "plexus.log", filepath.Base(entries[0].Name()))
}

func TestRequestIDIsUnique(t *testing.T) {
	a := RequestID()
	b := RequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
