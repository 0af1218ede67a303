// Package session keeps a voice session alive: [Reconnector] re-establishes
// dropped voice connections and [LogGuard] keeps transcript persistence from
// taking the pipeline down with it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	Platform  audio.Platform
	ChannelID string

	// MaxRetries bounds the connect attempts per drop. Default 10.
	MaxRetries int

	// Backoff is the first retry delay, doubled per failed attempt up to
	// MaxBackoff. Defaults 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnReconnect receives every re-established connection. The previous
	// connection is already disconnected when it runs.
	OnReconnect func(audio.Connection)

	// OnGiveUp receives the last connect error once a drop could not be
	// recovered within MaxRetries attempts.
	OnGiveUp func(error)
}

func (c *ReconnectorConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = c.Backoff
	}
}

// Reconnector owns the voice connection of one session. Drops are reported
// with [Reconnector.NotifyDisconnect]; the goroutine started by
// [Reconnector.Monitor] then redials with exponential backoff. Speaker state
// lives in the segmentation engine, so a reconnect only has to rebind
// streams through OnReconnect.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	cfg  ReconnectorConfig
	log  *slog.Logger
	drop chan struct{}
	stop chan struct{}

	stopOnce sync.Once

	mu         sync.Mutex
	conn       audio.Connection
	reconnects int
}

// NewReconnector returns a Reconnector for cfg.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	cfg.applyDefaults()
	return &Reconnector{
		cfg:  cfg,
		log:  slog.With("channel_id", cfg.ChannelID),
		drop: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Connect dials the channel for the first time.
func (r *Reconnector) Connect(ctx context.Context) (audio.Connection, error) {
	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	r.swap(conn)
	return conn, nil
}

// Monitor handles drop notifications until ctx ends or Stop is called.
func (r *Reconnector) Monitor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-r.drop:
				r.recover(ctx)
			}
		}
	}()
}

// NotifyDisconnect reports a dropped connection. Notifications that arrive
// while one is pending collapse into it.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.drop <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and disconnects the current connection. Later calls
// return nil.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// Connection returns the live connection, nil after Stop.
func (r *Reconnector) Connection() audio.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Reconnects counts successful reconnections.
func (r *Reconnector) Reconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects
}

func (r *Reconnector) dial(ctx context.Context) (audio.Connection, error) {
	conn, err := r.cfg.Platform.Connect(ctx, r.cfg.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("session: connect %s: %w", r.cfg.ChannelID, err)
	}
	return conn, nil
}

// swap installs conn and returns the connection it replaced.
func (r *Reconnector) swap(conn audio.Connection) (old audio.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, r.conn = r.conn, conn
	return old
}

// recover redials until it succeeds, runs out of attempts, or is stopped.
func (r *Reconnector) recover(ctx context.Context) {
	delay := r.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if r.stopped(ctx) {
			return
		}

		conn, err := r.dial(ctx)
		if err == nil {
			if old := r.swap(conn); old != nil {
				_ = old.Disconnect()
			}
			r.mu.Lock()
			r.reconnects++
			r.mu.Unlock()

			r.log.Info("session: voice reconnected", "attempt", attempt)
			if r.cfg.OnReconnect != nil {
				r.cfg.OnReconnect(conn)
			}
			return
		}

		lastErr = err
		r.log.Warn("session: reconnect attempt failed",
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"retry_in", delay,
			"err", err,
		)
		if !r.sleep(ctx, delay) {
			return
		}
		delay = min(delay*2, r.cfg.MaxBackoff)
	}

	r.log.Error("session: giving up on voice connection", "attempts", r.cfg.MaxRetries, "err", lastErr)
	if r.cfg.OnGiveUp != nil {
		r.cfg.OnGiveUp(lastErr)
	}
}

func (r *Reconnector) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-r.stop:
		return true
	default:
		return false
	}
}

// sleep waits d and reports false when interrupted.
func (r *Reconnector) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.stop:
		return false
	case <-t.C:
		return true
	}
}
