package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/internal/config"
)

const (
	watchedYAML = `
server:
  log_level: info
discord:
  token: watcher-token
segmentation:
  buffer_duration: 5s
`
	watchedDebugYAML = `
server:
  log_level: debug
discord:
  token: watcher-token
segmentation:
  buffer_duration: 4s
`
	watchedBrokenYAML = `
server:
  log_level: bananas
discord:
  token: watcher-token
`
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// changeLog collects watcher callbacks.
type changeLog struct {
	mu      sync.Mutex
	changes [][2]*config.Config
	errs    []error
	signal  chan struct{}
}

func newChangeLog() *changeLog { return &changeLog{signal: make(chan struct{}, 8)} }

func (c *changeLog) apply(old, new *config.Config) {
	c.mu.Lock()
	c.changes = append(c.changes, [2]*config.Config{old, new})
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *changeLog) fail(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *changeLog) counts() (changes, errs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes), len(c.errs)
}

// startWatcher watches a fresh file holding content. The poll interval is
// long so tests drive reloads explicitly unless they pass their own.
func startWatcher(t *testing.T, content string, opts ...config.WatcherOption) (*config.Watcher, string, *changeLog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	log := newChangeLog()
	opts = append([]config.WatcherOption{
		config.WithInterval(time.Hour),
		config.WithEnv(noEnv),
		config.WithErrorHandler(log.fail),
	}, opts...)
	w, err := config.NewWatcher(path, log.apply, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, log
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, watchedYAML)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Segmentation.BufferDuration != 5*time.Second {
		t.Errorf("buffer_duration = %v, want 5s", cfg.Segmentation.BufferDuration)
	}
	if w.Reloads() != 0 {
		t.Errorf("Reloads() = %d, want 0", w.Reloads())
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	w, path, log := startWatcher(t, watchedYAML)

	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload() on unchanged file = %v, want ErrUnchanged", err)
	}

	writeFile(t, path, watchedDebugYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload(): %v", err)
	}
	if changes, _ := log.counts(); changes != 1 {
		t.Fatalf("callbacks = %d, want 1", changes)
	}
	pair := log.changes[0]
	if pair[0].Server.LogLevel != config.LogInfo || pair[1].Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q", pair[0].Server.LogLevel, pair[1].Server.LogLevel)
	}
	if w.Current() != pair[1] {
		t.Error("Current() is not the new config")
	}

	writeFile(t, path, watchedBrokenYAML)
	if err := w.Reload(); err == nil {
		t.Fatal("Reload() accepted an invalid level")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("invalid reload replaced config, level = %q", got)
	}
	if w.Reloads() != 1 {
		t.Errorf("Reloads() = %d, want 1", w.Reloads())
	}
}

func TestWatcher_PollsChanges(t *testing.T) {
	t.Parallel()
	w, path, log := startWatcher(t, watchedYAML, config.WithInterval(20*time.Millisecond))

	// Bump mtime explicitly; some filesystems have coarse timestamps.
	writeFile(t, path, watchedDebugYAML)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-log.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after file change")
	}
	if changes, errs := log.counts(); changes != 1 || errs != 0 {
		t.Errorf("changes=%d errs=%d, want 1 and 0", changes, errs)
	}
	if got := w.Current().Segmentation.BufferDuration; got != 4*time.Second {
		t.Errorf("buffer_duration = %v, want 4s", got)
	}
}

func TestWatcher_PollReportsBrokenFileOnce(t *testing.T) {
	t.Parallel()
	w, path, log := startWatcher(t, watchedYAML, config.WithInterval(20*time.Millisecond))

	writeFile(t, path, watchedBrokenYAML)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-log.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("broken file not reported")
	}
	time.Sleep(100 * time.Millisecond)

	if changes, errs := log.counts(); changes != 0 || errs != 1 {
		t.Errorf("changes=%d errs=%d, want 0 and 1", changes, errs)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("level = %q, want previous info", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	_, path, log := startWatcher(t, watchedYAML, config.WithInterval(20*time.Millisecond))

	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if changes, errs := log.counts(); changes != 0 || errs != 0 {
		t.Errorf("touch produced changes=%d errs=%d", changes, errs)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, watchedYAML)
	w.Stop()
	w.Stop()
}

func TestWatcher_AppliesEnvironment(t *testing.T) {
	t.Parallel()
	env := func(k string) (string, bool) {
		if k == "DISCORD_TOKEN" {
			return "env-token", true
		}
		return "", false
	}
	w, _, _ := startWatcher(t, "server:\n  log_level: info\n", config.WithEnv(env))

	if got := w.Current().Discord.Token; got != "env-token" {
		t.Errorf("token = %q, want env-token", got)
	}
}

func noEnv(string) (string, bool) { return "", false }
