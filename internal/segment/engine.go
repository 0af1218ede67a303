// Package segment turns a multiplexed stream of small per-speaker audio
// packets into bounded utterance segments and hands each one to a
// transcription gateway.
//
// An [Engine] serves one voice session. Packets enter through
// [Engine.Submit], which never blocks: the packet is copied and queued for
// the engine's single consumer goroutine, which owns all per-speaker state.
// A speaker's buffer is flushed when it reaches the normal size threshold,
// when it reaches the force threshold, or when no packet has arrived for the
// finalize delay. At most one transcription per speaker is in flight; while it
// runs new audio keeps accumulating and further flush attempts are skipped.
//
// Transcriptions run on their own goroutines, bounded across speakers by a
// weighted semaphore, and report back to the consumer when done.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// ErrClosed is returned by operations on an engine that has been shut down.
var ErrClosed = errors.New("segment: engine closed")

// deliverTimeout bounds one Sink.Deliver call.
const deliverTimeout = 30 * time.Second

// Option configures an [Engine].
type Option func(*Engine)

// WithClock replaces the wall clock, typically with a [FakeClock].
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProviderName sets the provider label used on transcription metrics.
// By default the gateway's [stt.Namer] name is used.
func WithProviderName(name string) Option {
	return func(e *Engine) { e.provider = name }
}

// WithName labels the engine's log records, e.g. with the voice channel.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine is the per-session segmentation engine. All exported methods are
// safe for concurrent use.
type Engine struct {
	gateway  Gateway
	sink     Sink
	clock    Clock
	metrics  *observe.Metrics
	provider string
	name     string
	log      *slog.Logger

	cfgMu sync.RWMutex
	cfg   Config

	buf   *buffer
	sched *scheduler
	sem   *semaphore.Weighted

	tasks   chan func() // ingestion side, bounded, drop on full for packets
	control chan func() // timer fires and completions, never dropped
	closing chan struct{}
	stopped chan struct{}
	once    sync.Once

	inflight sync.WaitGroup

	// Owned by the run goroutine.
	armed    map[string]uint64
	history  map[string][]string
	removing map[string]bool
	draining bool
	sweep    Timer
}

// New validates cfg (zero fields take [DefaultConfig] values) and starts an
// engine that transcribes through gateway and delivers to sink.
func New(gateway Gateway, sink Sink, cfg Config, opts ...Option) (*Engine, error) {
	if gateway == nil {
		return nil, errors.New("segment: gateway must not be nil")
	}
	if sink == nil {
		return nil, errors.New("segment: sink must not be nil")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		gateway:  gateway,
		sink:     sink,
		clock:    RealClock(),
		cfg:      cfg,
		tasks:    make(chan func(), cfg.TaskQueueSize),
		control:  make(chan func()),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentTranscriptions)),
		armed:    make(map[string]uint64),
		history:  make(map[string][]string),
		removing: make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.provider == "" {
		e.provider = stt.NameOf(gateway)
	}
	e.log = slog.Default().With("engine", e.name)
	e.buf = newBuffer(cfg.SampleRate)
	e.sched = newScheduler(e.clock)

	go e.run()
	return e, nil
}

// ─── Public API ──────────────────────────────────────────────────────────────

// Submit queues a chunk of mono 16-bit PCM for speakerID, received at at.
// The chunk is copied. When the queue is full the packet is dropped and
// counted; after shutdown it is ignored.
func (e *Engine) Submit(speakerID string, chunk []byte, at time.Time) {
	if len(chunk) == 0 {
		return
	}
	select {
	case <-e.closing:
		return
	default:
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)

	select {
	case e.tasks <- func() { e.ingest(speakerID, data, at) }:
	default:
		e.metrics.PacketsDropped.Add(context.Background(), 1)
		e.log.Warn("segment: task queue full, packet dropped", "speaker_id", speakerID, "bytes", len(chunk))
	}
}

// RemoveSpeaker flushes what the speaker has buffered and tears its session
// down. If a transcription for the speaker is in flight, the flush and the
// teardown happen when it completes.
func (e *Engine) RemoveSpeaker(speakerID string) error {
	if !e.sendTask(func() { e.remove(speakerID) }) {
		return ErrClosed
	}
	return nil
}

// UpdateConfig applies new thresholds to a running engine. SampleRate,
// TaskQueueSize and MaxConcurrentTranscriptions are fixed at construction;
// changes to them are rejected or ignored respectively.
func (e *Engine) UpdateConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if cfg.SampleRate != e.cfg.SampleRate {
		return fmt.Errorf("segment: update config: sample_rate cannot change at runtime (%d -> %d)", e.cfg.SampleRate, cfg.SampleRate)
	}
	if cfg.TaskQueueSize != e.cfg.TaskQueueSize || cfg.MaxConcurrentTranscriptions != e.cfg.MaxConcurrentTranscriptions {
		e.log.Warn("segment: queue size and transcription concurrency apply on the next session only")
		cfg.TaskQueueSize = e.cfg.TaskQueueSize
		cfg.MaxConcurrentTranscriptions = e.cfg.MaxConcurrentTranscriptions
	}
	e.cfg = cfg
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Status returns a snapshot of every speaker session.
func (e *Engine) Status() Status {
	cfg := e.Config()
	speakers := e.buf.snapshot(e.clock.Now())
	for i := range speakers {
		speakers[i].PendingTimer = e.sched.isPending(speakers[i].SpeakerID)
	}
	return Status{
		Mode:           cfg.Mode,
		ActiveSpeakers: len(speakers),
		Speakers:       speakers,
		Config:         cfg,
	}
}

// Shutdown stops accepting packets, flushes every non-empty buffer, cancels
// all timers and waits for in-flight transcriptions to deliver. It returns
// the context error if ctx ends first. Calling Shutdown again waits again.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.once.Do(func() { close(e.closing) })

	select {
	case <-e.stopped:
	case <-ctx.Done():
		return fmt.Errorf("segment: shutdown: %w", ctx.Err())
	}

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("segment: shutdown: %w", ctx.Err())
	}
}

// ─── Consumer loop ───────────────────────────────────────────────────────────

func (e *Engine) run() {
	defer close(e.stopped)
	e.scheduleSweep()

	closing := e.closing
	for {
		select {
		case t := <-e.tasks:
			e.exec(t)
		case t := <-e.control:
			e.exec(t)
		case <-closing:
			closing = nil
			e.beginShutdown()
		}
		if e.draining && !e.buf.anyLocked() {
			e.finish()
			return
		}
	}
}

// exec runs a task, containing panics to that task.
func (e *Engine) exec(t func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("segment: panic in engine task", "panic", r)
		}
	}()
	t()
}

// sendTask queues t behind already submitted packets without dropping it.
func (e *Engine) sendTask(t func()) bool {
	select {
	case <-e.closing:
		return false
	default:
	}
	select {
	case e.tasks <- t:
		return true
	case <-e.stopped:
		return false
	}
}

// sendControl hands t to the consumer. It blocks until the consumer takes it
// or has stopped.
func (e *Engine) sendControl(t func()) {
	select {
	case e.control <- t:
	case <-e.stopped:
	}
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ─── Speaker state machine ───────────────────────────────────────────────────

func (e *Engine) ingest(id string, chunk []byte, at time.Time) {
	if e.draining {
		return
	}
	if e.buf.append(id, chunk, at) {
		e.metrics.ActiveSpeakers.Add(context.Background(), 1)
		e.log.Debug("segment: new speaker", "speaker_id", id)
	}
	delete(e.removing, id)

	cfg := e.config()
	e.arm(id, cfg)

	dur := e.buf.duration(id)
	switch {
	case dur >= cfg.ForceThreshold:
		if e.buf.isLocked(id) {
			e.log.Debug("segment: force flush skipped, transcription in flight", "speaker_id", id, "buffered", dur)
			return
		}
		e.log.Warn("segment: force flushing to bound buffer growth", "speaker_id", id, "buffered", dur)
		e.flush(id, TriggerForce)
	case dur >= cfg.BufferDuration:
		if e.buf.isLocked(id) {
			return
		}
		e.flush(id, TriggerThreshold)
	}
}

// arm (re)schedules the finalize timeout after a packet according to the
// timer policy.
func (e *Engine) arm(id string, cfg Config) {
	delay := cfg.finalizeDelay()
	if cfg.TimerPolicy == PolicyKeep {
		if gen, ok := e.sched.scheduleIfIdle(id, delay, e.fireFunc(id, delay)); ok {
			e.armed[id] = gen
		}
		return
	}
	e.armFor(id, delay)
}

// armFor cancels any pending timer and arms one that fires after wait. The
// fire re-validates against delay.
func (e *Engine) armFor(id string, wait time.Duration) {
	e.armed[id] = e.sched.schedule(id, wait, e.fireFunc(id, e.config().finalizeDelay()))
}

func (e *Engine) fireFunc(id string, delay time.Duration) func(gen uint64) {
	return func(gen uint64) {
		e.sendControl(func() { e.onTimeout(id, gen, delay) })
	}
}

func (e *Engine) cancelTimer(id string) {
	e.sched.cancel(id)
	delete(e.armed, id)
}

func (e *Engine) onTimeout(id string, gen uint64, delay time.Duration) {
	if e.draining || e.armed[id] != gen {
		return
	}
	delete(e.armed, id)

	last, ok := e.buf.lastPacket(id)
	if !ok {
		return
	}
	if elapsed := e.clock.Now().Sub(last); elapsed < delay {
		e.log.Debug("segment: timeout skipped, new speech detected", "speaker_id", id)
		if !e.sched.isPending(id) {
			e.armFor(id, delay-elapsed)
		}
		return
	}
	if e.buf.duration(id) <= 0 {
		return
	}
	if e.buf.isLocked(id) {
		e.log.Debug("segment: timeout while transcribing, re-arming", "speaker_id", id)
		e.armFor(id, delay)
		return
	}
	e.log.Debug("segment: speech segment timeout", "speaker_id", id, "delay", delay)
	e.flush(id, TriggerTimeout)
}

// flush extracts the speaker's buffer and starts its transcription. It
// reports whether a transcription was started.
func (e *Engine) flush(id string, trigger Trigger) bool {
	if e.buf.isLocked(id) {
		return false
	}
	cfg := e.config()
	e.cancelTimer(id)

	if !trigger.retainsOverlap() && e.buf.onlyRetained(id) {
		e.buf.extractAndClear(id)
		return false
	}

	e.buf.setLocked(id, true)
	data := e.buf.extractAndClear(id)
	dur := audio.PCMDuration(len(data), cfg.SampleRate, 1)
	now := e.clock.Now()

	if len(data) == 0 {
		e.buf.setLocked(id, false)
		return false
	}
	if dur < cfg.MinSpeechDuration {
		e.buf.setLocked(id, false)
		e.metrics.SegmentDiscarded.Add(context.Background(), 1)
		e.log.Debug("segment: flush discarded, below minimum speech duration",
			"speaker_id", id, "duration", dur, "min", cfg.MinSpeechDuration)
		return false
	}

	if trigger.retainsOverlap() && cfg.OverlapDuration > 0 {
		n := overlapBytes(cfg.OverlapDuration, cfg.SampleRate)
		if n > 0 && n < len(data) {
			e.buf.retain(id, append([]byte(nil), data[len(data)-n:]...), now)
			e.armFor(id, cfg.finalizeDelay())
		}
	}

	seg := Segment{SpeakerID: id, Audio: data, Duration: dur, Trigger: trigger, At: now}
	hints := stt.Hints{
		Language: cfg.Language,
		Task:     cfg.Task,
		Prompt:   e.prompt(id, cfg.PromptHistory),
		Filename: filename(id),
	}

	e.metrics.RecordFlush(context.Background(), string(trigger), dur.Seconds())
	e.log.Info("segment: flush", "speaker_id", id, "trigger", trigger, "duration", dur)

	e.inflight.Add(1)
	go e.transcribe(seg, hints, cfg.TranscribeTimeout)
	return true
}

// complete runs on the consumer once a transcription goroutine finished.
func (e *Engine) complete(id, text string) {
	e.buf.setLocked(id, false)

	if text != "" {
		if k := e.config().PromptHistory; k > 0 {
			h := append(e.history[id], text)
			if len(h) > k {
				h = h[len(h)-k:]
			}
			e.history[id] = h
		}
	}

	switch {
	case e.draining:
		if e.buf.duration(id) > 0 {
			e.flush(id, TriggerShutdown)
		}
	case e.removing[id]:
		if e.buf.duration(id) > 0 && e.flush(id, TriggerRemoved) {
			return
		}
		e.drop(id)
	}
}

func (e *Engine) remove(id string) {
	if e.draining {
		return
	}
	if _, ok := e.buf.lastPacket(id); !ok {
		return
	}
	e.cancelTimer(id)
	if e.buf.isLocked(id) {
		e.removing[id] = true
		return
	}
	if e.buf.duration(id) > 0 && e.flush(id, TriggerRemoved) {
		e.removing[id] = true
		return
	}
	e.drop(id)
}

// drop deletes every trace of the speaker.
func (e *Engine) drop(id string) {
	e.cancelTimer(id)
	delete(e.history, id)
	delete(e.removing, id)
	if e.buf.remove(id) {
		e.metrics.ActiveSpeakers.Add(context.Background(), -1)
		e.log.Debug("segment: speaker removed", "speaker_id", id)
	}
}

func (e *Engine) beginShutdown() {
	// Packets queued before Shutdown still count.
	for {
		select {
		case t := <-e.tasks:
			e.exec(t)
			continue
		default:
		}
		break
	}
	e.draining = true

	flushed := 0
	for _, id := range e.buf.speakerIDs() {
		if e.buf.duration(id) > 0 && e.flush(id, TriggerShutdown) {
			flushed++
		}
	}
	cancelled := e.sched.cancelAll()
	clear(e.armed)
	if e.sweep != nil {
		e.sweep.Stop()
	}
	e.log.Info("segment: shutting down", "flushed", flushed, "timers_cancelled", cancelled)
}

func (e *Engine) finish() {
	for _, id := range e.buf.speakerIDs() {
		e.drop(id)
	}
	clear(e.history)
	clear(e.removing)
}

// ─── Idle eviction ───────────────────────────────────────────────────────────

func (e *Engine) scheduleSweep() {
	interval := e.config().IdleEviction
	if interval <= 0 {
		interval = time.Minute
	}
	e.sweep = e.clock.AfterFunc(interval, func() { e.sendControl(e.evictIdle) })
}

func (e *Engine) evictIdle() {
	if e.draining {
		return
	}
	defer e.scheduleSweep()

	ttl := e.config().IdleEviction
	if ttl <= 0 {
		return
	}
	for _, id := range e.buf.idle(e.clock.Now().Add(-ttl)) {
		if e.sched.isPending(id) {
			continue
		}
		e.log.Debug("segment: evicting idle speaker", "speaker_id", id)
		e.drop(id)
	}
}

// ─── Transcription ───────────────────────────────────────────────────────────

func (e *Engine) transcribe(seg Segment, hints stt.Hints, timeout time.Duration) {
	defer e.inflight.Done()
	var text string
	defer func() {
		e.sendControl(func() { e.complete(seg.SpeakerID, text) })
	}()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("segment: panic during transcription", "speaker_id", seg.SpeakerID, "panic", r)
		}
	}()

	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, span, log := observe.StartSegment(ctx, observe.SpanTranscribe, observe.SegmentSpan{
		SpeakerID: seg.SpeakerID,
		Trigger:   string(seg.Trigger),
		Duration:  seg.Duration,
		Provider:  e.provider,
	})
	defer span.End()

	wav := audio.ToContainer(seg.Audio, e.buf.sampleRate)
	start := time.Now()
	res, err := e.gateway.Transcribe(ctx, wav, hints)
	e.metrics.RecordTranscription(ctx, e.provider, time.Since(start).Seconds(), err != nil)
	if err != nil {
		observe.Fail(span, err)
		log.Warn("segment: transcription failed", "duration", seg.Duration, "err", err)
		return
	}

	text = strings.TrimSpace(res.Text)
	if text == "" {
		log.Debug("segment: empty transcription", "duration", seg.Duration)
		return
	}

	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer dcancel()
	dctx, dspan := observe.Tracer().Start(dctx, observe.SpanDeliver)
	defer dspan.End()
	e.sink.Deliver(dctx, Result{
		SpeakerID: seg.SpeakerID,
		Text:      text,
		Duration:  seg.Duration,
		Trigger:   seg.Trigger,
		At:        seg.At,
		Language:  res.Language,
	})
}

// ---- helpers ----

func (e *Engine) prompt(id string, k int) string {
	if k <= 0 {
		return ""
	}
	return strings.Join(e.history[id], " ")
}

// filename is the upload name of a speaker's segment.
func filename(id string) string {
	return "stream_user_" + strings.ReplaceAll(id, ":", "_") + ".wav"
}

// overlapBytes converts d to a whole number of mono 16-bit samples in bytes.
func overlapBytes(d time.Duration, sampleRate int) int {
	samples := int64(d) * int64(sampleRate) / int64(time.Second)
	return int(samples) * audio.BytesPerSample
}
