package segment

import (
	"errors"
	"fmt"
	"time"
)

// Mode names the voice activity strategy feeding the engine.
type Mode string

const (
	// ModeTrustVAD trusts the platform to send packets only during speech and
	// finalises a segment after SegmentTimeout without packets.
	ModeTrustVAD Mode = "trust_discord_vad"

	// ModeEnergyVAD gates packets with a local energy detector upstream and
	// finalises after the shorter SilenceTimeout.
	ModeEnergyVAD Mode = "energy_vad"
)

// TimerPolicy selects what a packet does to an already armed timeout.
type TimerPolicy string

const (
	// PolicyReschedule cancels the pending timeout and arms a new one, so a
	// segment ends SegmentTimeout after its last packet.
	PolicyReschedule TimerPolicy = "reschedule"

	// PolicyKeep leaves a pending timeout alone. The fire re-validates the
	// elapsed time and re-arms when speech continued.
	PolicyKeep TimerPolicy = "keep"
)

// Config holds the segmentation thresholds. Durations of audio are derived
// from byte counts of mono 16-bit PCM at SampleRate.
type Config struct {
	// SampleRate of the mono PCM handed to Submit. Default 48000.
	SampleRate int

	// BufferDuration is the normal flush threshold. Default 5s.
	BufferDuration time.Duration

	// ForceThreshold is the high-water mark that bounds buffer growth under
	// continuous speech. Default 8s.
	ForceThreshold time.Duration

	// SegmentTimeout finalises a segment after this long without packets in
	// [ModeTrustVAD]. Default 2s.
	SegmentTimeout time.Duration

	// SilenceTimeout replaces SegmentTimeout in [ModeEnergyVAD]. Default 1s.
	SilenceTimeout time.Duration

	// MinSpeechDuration discards shorter segments without transcribing them.
	// Default 300ms.
	MinSpeechDuration time.Duration

	// MaxBufferDuration is the ceiling operators may raise ForceThreshold to.
	// Default 10s.
	MaxBufferDuration time.Duration

	// OverlapDuration of audio retained after a threshold flush as the start
	// of the next segment. Zero disables overlap.
	OverlapDuration time.Duration

	// PromptHistory is the number of previous texts per speaker passed to the
	// gateway as a prompt. Zero disables it.
	PromptHistory int

	// TimerPolicy defaults to [PolicyReschedule].
	TimerPolicy TimerPolicy

	// Mode defaults to [ModeTrustVAD].
	Mode Mode

	// TaskQueueSize is the capacity of the ingestion queue. Default 1024.
	TaskQueueSize int

	// MaxConcurrentTranscriptions bounds gateway calls across all speakers.
	// Default 4.
	MaxConcurrentTranscriptions int

	// TranscribeTimeout bounds one gateway call. Default 300s.
	TranscribeTimeout time.Duration

	// IdleEviction removes idle speaker sessions older than this. Zero
	// disables eviction. Default 5m.
	IdleEviction time.Duration

	// Language and Task are passed to the gateway with every segment.
	Language string
	Task     string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		SampleRate:                  48000,
		BufferDuration:              5 * time.Second,
		ForceThreshold:              8 * time.Second,
		SegmentTimeout:              2 * time.Second,
		SilenceTimeout:              time.Second,
		MinSpeechDuration:           300 * time.Millisecond,
		MaxBufferDuration:           10 * time.Second,
		TimerPolicy:                 PolicyReschedule,
		Mode:                        ModeTrustVAD,
		TaskQueueSize:               1024,
		MaxConcurrentTranscriptions: 4,
		TranscribeTimeout:           300 * time.Second,
		IdleEviction:                5 * time.Minute,
	}
}

// WithDefaults returns c with zero values filled from [DefaultConfig].
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BufferDuration == 0 {
		c.BufferDuration = d.BufferDuration
	}
	if c.ForceThreshold == 0 {
		c.ForceThreshold = d.ForceThreshold
	}
	if c.SegmentTimeout == 0 {
		c.SegmentTimeout = d.SegmentTimeout
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = d.MinSpeechDuration
	}
	if c.MaxBufferDuration == 0 {
		c.MaxBufferDuration = max(d.MaxBufferDuration, c.ForceThreshold)
	}
	if c.TimerPolicy == "" {
		c.TimerPolicy = d.TimerPolicy
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.TaskQueueSize == 0 {
		c.TaskQueueSize = d.TaskQueueSize
	}
	if c.MaxConcurrentTranscriptions == 0 {
		c.MaxConcurrentTranscriptions = d.MaxConcurrentTranscriptions
	}
	if c.TranscribeTimeout == 0 {
		c.TranscribeTimeout = d.TranscribeTimeout
	}
	return c
}

// Validate reports every inconsistent field at once.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("segment: sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.BufferDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment: buffer_duration must be positive, got %s", c.BufferDuration))
	}
	if c.ForceThreshold < c.BufferDuration {
		errs = append(errs, fmt.Errorf("segment: force_threshold %s must not be below buffer_duration %s", c.ForceThreshold, c.BufferDuration))
	}
	if c.MaxBufferDuration < c.ForceThreshold {
		errs = append(errs, fmt.Errorf("segment: max_buffer_duration %s must not be below force_threshold %s", c.MaxBufferDuration, c.ForceThreshold))
	}
	if c.SegmentTimeout <= 0 || c.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("segment: segment_timeout and silence_timeout must be positive"))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("segment: min_speech_duration must not be negative, got %s", c.MinSpeechDuration))
	}
	if c.OverlapDuration < 0 || (c.OverlapDuration > 0 && c.OverlapDuration >= c.BufferDuration) {
		errs = append(errs, fmt.Errorf("segment: overlap_duration %s must be in [0, buffer_duration)", c.OverlapDuration))
	}
	if c.PromptHistory < 0 {
		errs = append(errs, fmt.Errorf("segment: prompt_history must not be negative, got %d", c.PromptHistory))
	}
	switch c.TimerPolicy {
	case PolicyReschedule, PolicyKeep:
	default:
		errs = append(errs, fmt.Errorf("segment: unknown timer_policy %q", c.TimerPolicy))
	}
	switch c.Mode {
	case ModeTrustVAD, ModeEnergyVAD:
	default:
		errs = append(errs, fmt.Errorf("segment: unknown mode %q", c.Mode))
	}
	if c.TaskQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("segment: task_queue_size must be positive, got %d", c.TaskQueueSize))
	}
	if c.MaxConcurrentTranscriptions <= 0 {
		errs = append(errs, fmt.Errorf("segment: max_concurrent_transcriptions must be positive, got %d", c.MaxConcurrentTranscriptions))
	}
	if c.TranscribeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("segment: transcribe_timeout must be positive, got %s", c.TranscribeTimeout))
	}
	if c.IdleEviction < 0 {
		errs = append(errs, fmt.Errorf("segment: idle_eviction must not be negative, got %s", c.IdleEviction))
	}
	return errors.Join(errs...)
}

// finalizeDelay returns the silence needed before a timeout flush.
func (c Config) finalizeDelay() time.Duration {
	if c.Mode == ModeEnergyVAD {
		return c.SilenceTimeout
	}
	return c.SegmentTimeout
}
