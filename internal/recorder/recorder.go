// Package recorder tees per-speaker PCM to disk as raw PCM or WAV files.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

// Format selects the on-disk container.
type Format string

const (
	FormatPCM Format = "pcm"
	FormatWAV Format = "wav"
)

// DefaultDir is where recordings land when no directory is configured.
const DefaultDir = "recorded_audio"

// ErrClosed is returned by [Recorder.Write] after [Recorder.Close].
var ErrClosed = errors.New("recorder: closed")

// Option configures a [Recorder].
type Option func(*Recorder)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

type track struct {
	f          *os.File
	path       string
	size       int
	sampleRate int
	channels   int
}

// Recorder owns one open file per speaker. It is safe for concurrent use.
type Recorder struct {
	dir    string
	format Format
	now    func() time.Time

	mu     sync.Mutex
	tracks map[string]*track
	closed bool
}

// New creates a Recorder writing into dir. The directory is created if
// missing.
func New(dir string, format Format, opts ...Option) (*Recorder, error) {
	switch format {
	case FormatPCM, FormatWAV:
	case "":
		format = FormatWAV
	default:
		return nil, fmt.Errorf("recorder: unsupported format %q", format)
	}
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create dir: %w", err)
	}
	r := &Recorder{
		dir:    dir,
		format: format,
		now:    time.Now,
		tracks: make(map[string]*track),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Write appends pcm to the speaker's recording, opening a new file on the
// first write. The format of the first frame fixes the file's header.
func (r *Recorder) Write(speakerID string, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	t, ok := r.tracks[speakerID]
	if !ok {
		var err error
		if t, err = r.open(speakerID, sampleRate, channels); err != nil {
			return err
		}
		r.tracks[speakerID] = t
	}
	n, err := t.f.Write(pcm)
	t.size += n
	if err != nil {
		return fmt.Errorf("recorder: write %s: %w", t.path, err)
	}
	return nil
}

func (r *Recorder) open(speakerID string, sampleRate, channels int) (*track, error) {
	name := fmt.Sprintf("user_%s_%s.%s", speakerID, r.now().Format("20060102_150405"), r.format)
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	if r.format == FormatWAV {
		if _, err := f.Write(audio.WAVHeader(0, sampleRate, channels)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("recorder: write header: %w", err)
		}
	}
	slog.Info("recorder: started recording", "speaker", speakerID, "path", path)
	return &track{f: f, path: path, sampleRate: sampleRate, channels: channels}, nil
}

// CloseSpeaker finalises the speaker's file. Unknown speakers are a no-op.
func (r *Recorder) CloseSpeaker(speakerID string) error {
	r.mu.Lock()
	t, ok := r.tracks[speakerID]
	delete(r.tracks, speakerID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.finish(t)
}

// Files returns the paths of all open recordings.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.tracks))
	for _, t := range r.tracks {
		paths = append(paths, t.path)
	}
	return paths
}

// Close finalises every open file. Further writes fail with [ErrClosed].
func (r *Recorder) Close() error {
	r.mu.Lock()
	tracks := r.tracks
	r.tracks = make(map[string]*track)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		errs = append(errs, r.finish(t))
	}
	return errors.Join(errs...)
}

func (r *Recorder) finish(t *track) error {
	var errs []error
	if r.format == FormatWAV {
		errs = append(errs, audio.PatchWAVHeader(t.f, t.size, t.sampleRate, t.channels))
	}
	errs = append(errs, t.f.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("recorder: finish %s: %w", t.path, err)
	}
	slog.Info("recorder: saved recording", "path", t.path, "bytes", t.size)
	return nil
}
