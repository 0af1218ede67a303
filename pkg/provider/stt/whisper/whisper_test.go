package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/MrWong99/voicescribe/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// asrRequest captures what the fake ASR service received.
type asrRequest struct {
	path        string
	query       map[string]string
	filename    string
	contentType string
	audio       []byte
}

// newASRServer starts a fake openai-whisper-asr-webservice. POST /asr answers
// with respond; every upload is recorded.
func newASRServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []asrRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []asrRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		case r.Method != http.MethodPost:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rec := asrRequest{path: r.URL.Path, query: map[string]string{}}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		file, hdr, err := r.FormFile("audio_file")
		if err != nil {
			http.Error(w, "missing audio_file", http.StatusUnprocessableEntity)
			return
		}
		rec.filename = hdr.Filename
		rec.contentType = hdr.Header.Get("Content-Type")
		rec.audio, _ = io.ReadAll(file)
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []asrRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]asrRequest(nil), reqs...)
	}
}

func textResponse(text string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)
	}
}

func testWAV() []byte {
	return audio.EncodeWAV(make([]byte, 3200), 16000, 1)
}

func mustNew(t *testing.T, url string, opts ...whisper.Option) *whisper.Provider {
	t.Helper()
	p, err := whisper.New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyBaseURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty base URL, got nil")
	}
}

func TestNew_UnsupportedOutput_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New("http://localhost:9000", whisper.WithOutput("srt")); err == nil {
		t.Fatal("expected error for srt output, got nil")
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := mustNew(t, "http://localhost:9000")
	if got := stt.NameOf(p); got != "whisper" {
		t.Errorf("NameOf = %q, want whisper", got)
	}
}

// ---- transcription ------------------------------------------------------------

func TestTranscribe_SendsFormAndQuery(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, textResponse("  hello there \n"))
	p := mustNew(t, srv.URL+"/")

	wav := testWAV()
	res, err := p.Transcribe(context.Background(), wav, stt.Hints{
		Language: "de",
		Prompt:   "previous words",
		Filename: "stream_user_42.wav",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want de", res.Language)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	r := reqs[0]
	if r.path != "/asr" {
		t.Errorf("path = %q, want /asr", r.path)
	}
	wantQuery := map[string]string{
		"task":           "transcribe",
		"output":         "txt",
		"encode":         "true",
		"language":       "de",
		"initial_prompt": "previous words",
	}
	for k, v := range wantQuery {
		if r.query[k] != v {
			t.Errorf("query %s = %q, want %q", k, r.query[k], v)
		}
	}
	if r.filename != "stream_user_42.wav" {
		t.Errorf("filename = %q, want stream_user_42.wav", r.filename)
	}
	if r.contentType != "audio/wav" {
		t.Errorf("part content type = %q, want audio/wav", r.contentType)
	}
	if string(r.audio) != string(wav) {
		t.Error("uploaded audio does not match the WAV passed in")
	}
}

func TestTranscribe_OmitsEmptyHints(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, textResponse("ok"))
	p := mustNew(t, srv.URL)

	if _, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{Task: stt.TaskTranslate}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	r := requests()[0]
	if _, ok := r.query["language"]; ok {
		t.Error("language should be omitted when empty")
	}
	if _, ok := r.query["initial_prompt"]; ok {
		t.Error("initial_prompt should be omitted when empty")
	}
	if r.query["task"] != "translate" {
		t.Errorf("task = %q, want translate", r.query["task"])
	}
	if r.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", r.filename)
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, textResponse("ok"))
	p := mustNew(t, srv.URL, whisper.WithDefaultLanguage("en"))

	if _, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := requests()[0].query["language"]; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

func TestTranscribe_JSONOutput(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"text": " Guten Tag ", "language": "de"})
	})
	p := mustNew(t, srv.URL, whisper.WithOutput(whisper.OutputJSON))

	res, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Guten Tag" || res.Language != "de" {
		t.Errorf("result = %+v, want text %q language de", res, "Guten Tag")
	}
	if got := requests()[0].query["output"]; got != "json" {
		t.Errorf("output = %q, want json", got)
	}
}

func TestTranscribe_TextOutputWithJSONBody(t *testing.T) {
	t.Parallel()
	srv, _ := newASRServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"from json"}`)
	})
	p := mustNew(t, srv.URL)

	res, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from json" {
		t.Errorf("Text = %q, want %q", res.Text, "from json")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := newASRServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})
	p := mustNew(t, srv.URL)

	_, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{})
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model exploded") {
		t.Errorf("error %q should carry status and body", err)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv, _ := newASRServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		textResponse("x")(w, r)
	})
	p := mustNew(t, srv.URL)

	if _, err := p.Transcribe(context.Background(), nil, stt.Hints{}); err == nil {
		t.Fatal("expected error for empty audio, got nil")
	}
	if calls.Load() != 0 {
		t.Errorf("server was called %d times, want 0", calls.Load())
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv, _ := newASRServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	p := mustNew(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, testWAV(), stt.Hints{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

// ---- auxiliary endpoints ------------------------------------------------------

func TestDetectLanguage(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"detected_language":"german","language_code":"de"}`)
	})
	p := mustNew(t, srv.URL)

	det, err := p.DetectLanguage(context.Background(), testWAV())
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if det.Language != "german" || det.Code != "de" {
		t.Errorf("detection = %+v, want german/de", det)
	}
	r := requests()[0]
	if r.path != "/detect-language" || r.query["encode"] != "true" {
		t.Errorf("request = %s?encode=%s, want /detect-language?encode=true", r.path, r.query["encode"])
	}
}

func TestHealthy(t *testing.T) {
	t.Parallel()
	srv, _ := newASRServer(t, textResponse(""))
	p := mustNew(t, srv.URL)
	if err := p.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}

func TestHealthy_Unavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	p := mustNew(t, srv.URL)
	if err := p.Healthy(context.Background()); err == nil {
		t.Error("expected error for HTTP 503, got nil")
	}
}

func TestTranscribe_Concurrent(t *testing.T) {
	t.Parallel()
	srv, requests := newASRServer(t, textResponse("ok"))
	p := mustNew(t, srv.URL)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := p.Transcribe(context.Background(), testWAV(), stt.Hints{}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		})
	}
	wg.Wait()
	if n := len(requests()); n != 8 {
		t.Errorf("got %d requests, want 8", n)
	}
}
