package gwconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 1111\n"), 0o644))

	w := NewWatcher(path, "GATEWAY", nil)
	w.debounceDelay = 10 * time.Millisecond

	var mu sync.Mutex
	var seenPorts []int
	w.OnReload(func(cfg *Config) error {
		mu.Lock()
		seenPorts = append(seenPorts, cfg.Server.HTTPPort)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 2222\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seenPorts {
			if p == 2222 {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_StopsOnContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 1111\n"), 0o644))

	w := NewWatcher(path, "GATEWAY", nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	// the loop's ctx.Done() case returns promptly; nothing further to
	// assert beyond Start/cancel not deadlocking or panicking.
	time.Sleep(20 * time.Millisecond)
}
