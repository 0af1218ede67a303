package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the config already in effect.
var ErrUnchanged = errors.New("config: file unchanged")

// Watcher polls a config file and hands every valid change to a callback.
// A file that fails to load or validate is reported and skipped; the last
// good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	env      LookupEnv
	apply    func(old, new *Config)
	onError  func(error)

	stop     chan struct{}
	stopOnce sync.Once

	// reloadMu serialises polls with manual reloads.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	digest  [sha256.Size]byte
	reloads int
}

// fileStamp is the cheap part of change detection.
type fileStamp struct {
	mtime time.Time
	size  int64
}

func stampOf(fi os.FileInfo) fileStamp { return fileStamp{mtime: fi.ModTime(), size: fi.Size()} }

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv replaces [os.LookupEnv] for every reload.
func WithEnv(lookup LookupEnv) WatcherOption {
	return func(w *Watcher) { w.env = lookup }
}

// WithErrorHandler receives reload failures in addition to the warning log.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path once and starts polling it. apply may be nil.
func NewWatcher(path string, apply func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		env:      os.LookupEnv,
		apply:    apply,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, digest, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp, w.digest = cfg, stamp, digest

	go w.loop()
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads counts the changes handed to the callback.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Reload re-reads the file regardless of its modification time. It returns
// [ErrUnchanged] when the content is the same, or the load error.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, stamp, digest, err := w.read()
	if err != nil {
		return err
	}
	return w.commit(cfg, stamp, digest)
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) loop() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-tick.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	fi, err := os.Stat(w.path)
	if err != nil {
		w.fail(err)
		return
	}
	w.mu.Lock()
	same := stampOf(fi) == w.stamp
	w.mu.Unlock()
	if same {
		return
	}

	cfg, stamp, digest, err := w.read()
	if err != nil {
		w.fail(err)
		// Remember the stamp so a broken file is reported once per edit.
		w.mu.Lock()
		w.stamp = stampOf(fi)
		w.mu.Unlock()
		return
	}
	if err := w.commit(cfg, stamp, digest); err != nil && !errors.Is(err, ErrUnchanged) {
		w.fail(err)
	}
}

// commit makes cfg current and runs the callback outside the lock.
func (w *Watcher) commit(cfg *Config, stamp fileStamp, digest [sha256.Size]byte) error {
	w.mu.Lock()
	w.stamp = stamp
	if bytes.Equal(digest[:], w.digest[:]) {
		w.mu.Unlock()
		return ErrUnchanged
	}
	old := w.current
	w.current, w.digest = cfg, digest
	w.reloads++
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(old, cfg)
	}
	return nil
}

func (w *Watcher) fail(err error) {
	slog.Warn("config: reload failed, keeping current config", "path", w.path, "err", err)
	if w.onError != nil {
		w.onError(err)
	}
}

// read runs the full load pipeline on the file.
func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	cfg, err := parse(data, w.env)
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	return cfg, stampOf(fi), sha256.Sum256(data), nil
}
