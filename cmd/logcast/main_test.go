package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kxrxh/logcast/internal/broadcast"
	"github.com/kxrxh/logcast/internal/config"
	"github.com/kxrxh/logcast/internal/logger"
	"github.com/kxrxh/logcast/internal/registry"
)

type recordSub struct {
	mu  sync.Mutex
	got []string
}

func (r *recordSub) ID() string   { return "rec" }
func (r *recordSub) Closed() bool { return false }
func (r *recordSub) Close() error { return nil }

func (r *recordSub) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, text)
	return nil
}

func (r *recordSub) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func testConfig(path string) *config.Config {
	return &config.Config{
		File:  config.FileConfig{Path: path, Lines: 10, ChunkSize: 1024},
		Watch: config.WatchConfig{Mode: "poll", PollInterval: 10 * time.Millisecond, Restart: true},
	}
}

func TestSupervise_RestartsAfterRecreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	engine, err := broadcast.New(path, registry.New())
	require.NoError(t, err)
	sub := &recordSub{}
	engine.Attach(sub)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- supervise(ctx, engine, testConfig(path), logger.Discard()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Remove(path))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("fresh\n"), 0o644))

	require.Eventually(t, func() bool {
		msgs := sub.messages()
		return len(msgs) > 0 && msgs[len(msgs)-1] == "fresh\n"
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not stop")
	}
}

func TestSupervise_NoRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	engine, err := broadcast.New(path, registry.New())
	require.NoError(t, err)

	cfg := testConfig(path)
	cfg.Watch.Restart = false

	done := make(chan error, 1)
	go func() { done <- supervise(t.Context(), engine, cfg, logger.Discard()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lost watch not escalated")
	}
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOGCAST_FILE_LINES", "3")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--file", "/var/log/x.log", "--watch-mode", "poll"}))

	cfg, err := config.Load("", bindFlags(cmd))
	require.NoError(t, err)

	assert.Equal(t, "/var/log/x.log", cfg.File.Path)
	assert.Equal(t, "poll", cfg.Watch.Mode)
	assert.Equal(t, 3, cfg.File.Lines, "unset flags do not shadow the environment")
}
