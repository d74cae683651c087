package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Snapshot, 1)
	w, err := NewWatcher(ctx, configPath, func(s *Snapshot) {
		reloaded <- s
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644))

	select {
	case snap := <-reloaded:
		assert.Equal(t, 9999, snap.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresBadEdit(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Snapshot, 1)
	w, err := NewWatcher(ctx, configPath, func(s *Snapshot) {
		reloaded <- s
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(configPath, []byte("providers:\n  bad:\n    dialect: nope\n"), 0644))

	select {
	case <-reloaded:
		t.Fatal("invalid config should not trigger onReload")
	case <-time.After(1 * time.Second):
		// expected: reload failed and was swallowed
	}
}
