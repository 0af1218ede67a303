// Package whisper provides batch speech-to-text gateways backed by Whisper.
//
// [Provider] talks to a running openai-whisper-asr-webservice over HTTP: each
// segment is uploaded as a WAV file to POST /asr and the recognised text is
// returned. The service also exposes GET /health and POST /detect-language,
// which back [Provider.Healthy] and [Provider.DetectLanguage].
//
// [NativeProvider] (native.go) runs whisper.cpp in-process through the CGO
// bindings and is an optional alternative when no ASR service is deployed.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:9000",
//	    whisper.WithOutput(whisper.OutputJSON),
//	)
//	res, err := p.Transcribe(ctx, wav, stt.Hints{Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

const (
	// OutputText asks the service for a plain-text body.
	OutputText = "txt"

	// OutputJSON asks the service for a JSON document with a "text" field.
	OutputJSON = "json"

	defaultTimeout  = 300 * time.Second
	defaultFilename = "audio.wav"

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Compile-time interface assertions.
var (
	_ stt.Provider         = (*Provider)(nil)
	_ stt.HealthChecker    = (*Provider)(nil)
	_ stt.LanguageDetector = (*Provider)(nil)
	_ stt.Namer            = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithOutput selects the response format requested from /asr: [OutputText]
// (the default) or [OutputJSON].
func WithOutput(output string) Option {
	return func(p *Provider) {
		p.output = output
	}
}

// WithTimeout overrides the HTTP client timeout. Large segments on a CPU-only
// service can take minutes, so the default is 300 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithDefaultLanguage sets the language sent when [stt.Hints.Language] is
// empty. Leaving both empty lets the service auto-detect.
func WithDefaultLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// Provider implements [stt.Provider] against an openai-whisper-asr-webservice
// instance. It holds no per-request state and is safe for concurrent use.
type Provider struct {
	baseURL    string
	output     string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the ASR service at baseURL
// (e.g. "http://localhost:9000"). Trailing slashes are ignored.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("whisper: parse baseURL: %w", err)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		output:     OutputText,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.output {
	case OutputText, OutputJSON:
	default:
		return nil, fmt.Errorf("whisper: unsupported output format %q", p.output)
	}
	return p, nil
}

// Name returns the provider label used in metrics and logs.
func (p *Provider) Name() string { return "whisper" }

// Transcribe uploads wav to /asr and returns the recognised text. Language,
// task and prompt are taken from hints; empty values are omitted so the
// service applies its own defaults.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	q := url.Values{}
	task := hints.Task
	if task == "" {
		task = stt.TaskTranscribe
	}
	q.Set("task", task)
	q.Set("output", p.output)
	q.Set("encode", "true")
	lang := hints.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		q.Set("language", lang)
	}
	if hints.Prompt != "" {
		q.Set("initial_prompt", hints.Prompt)
	}

	resp, err := p.upload(ctx, "/asr", q, wav, hints.Filename)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: transcribe: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	if p.output == OutputText && !isJSON(resp.Header.Get("Content-Type")) {
		return stt.Result{Text: strings.TrimSpace(string(data)), Language: lang}, nil
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Language == "" {
		result.Language = lang
	}
	return stt.Result{Text: strings.TrimSpace(result.Text), Language: result.Language}, nil
}

// DetectLanguage uploads wav to /detect-language.
func (p *Provider) DetectLanguage(ctx context.Context, wav []byte) (stt.Detection, error) {
	q := url.Values{}
	q.Set("encode", "true")
	resp, err := p.upload(ctx, "/detect-language", q, wav, "")
	if err != nil {
		return stt.Detection{}, fmt.Errorf("whisper: detect language: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		DetectedLanguage string `json:"detected_language"`
		LanguageCode     string `json:"language_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Detection{}, fmt.Errorf("whisper: parse detect-language response: %w", err)
	}
	return stt.Detection{Language: result.DetectedLanguage, Code: result.LanguageCode}, nil
}

// Healthy probes GET /health. Any non-200 status is reported as an error.
func (p *Provider) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("whisper: create health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: health check: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// upload POSTs wav as the multipart field "audio_file" to path and returns
// the response when its status is 200. The caller closes the body.
func (p *Provider) upload(ctx context.Context, path string, q url.Values, wav []byte, filename string) (*http.Response, error) {
	if len(wav) == 0 {
		return nil, errors.New("empty audio")
	}
	if filename == "" {
		filename = defaultFilename
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filename))
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := p.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
