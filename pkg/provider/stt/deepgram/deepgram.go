// Package deepgram provides a Deepgram-backed batch STT gateway. Each segment
// is streamed over the Deepgram live WebSocket API in real-time-sized chunks,
// the stream is closed, and the final results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// chunkDuration is how much audio goes into one binary message.
	chunkDuration = 100 // ms
)

// Compile-time interface assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Namer    = (*Provider)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when [stt.Hints.Language]
// is empty (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of the given terms (names, jargon). Each
// keyword is sent with a boost of 2.
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements [stt.Provider] on top of the Deepgram streaming API.
// Every Transcribe call opens its own connection, so the Provider is safe for
// concurrent use.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the provider label used in metrics and logs.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe streams the PCM payload of wav to Deepgram and returns the
// concatenation of all final results.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	info, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	if hints.Task == stt.TaskTranslate {
		return stt.Result{}, fmt.Errorf("deepgram: translate: %w", stt.ErrNotSupported)
	}

	lang := hints.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(info, lang)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	// Deepgram only answers once enough audio arrived, so results are read
	// concurrently with the upload.
	type readResult struct {
		text string
		lang string
		err  error
	}
	results := make(chan readResult, 1)
	go func() {
		text, detected, err := readFinals(ctx, conn)
		results <- readResult{text: text, lang: detected, err: err}
	}()

	if err := writeAudio(ctx, conn, pcm, info); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}

	res := <-results
	if res.err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", res.err)
	}
	conn.Close(websocket.StatusNormalClosure, "segment complete")

	if res.lang == "" {
		res.lang = lang
	}
	return stt.Result{Text: res.text, Language: res.lang}, nil
}

// buildURL constructs the streaming endpoint URL for a segment of the given
// format.
func (p *Provider) buildURL(info audio.WAVInfo, lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(info.SampleRate))
	q.Set("channels", strconv.Itoa(info.Channels))

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:2")
		q.Add("keywords", kw+":2")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeAudio sends pcm in fixed-size binary messages and then asks Deepgram to
// flush and close the stream.
func writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, info audio.WAVInfo) error {
	chunk := info.SampleRate * info.Channels * audio.BytesPerSample * chunkDuration / 1000
	if chunk <= 0 {
		chunk = len(pcm)
	}
	for len(pcm) > 0 {
		n := min(chunk, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

// readFinals collects final results until Deepgram sends its Metadata message
// or closes the connection normally.
func readFinals(ctx context.Context, conn *websocket.Conn) (text, lang string, err error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), lang, nil
			}
			return "", "", fmt.Errorf("read: %w", err)
		}

		resp, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return strings.Join(parts, " "), lang, nil
		case "Results":
			if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
				continue
			}
			alt := resp.Channel.Alternatives[0]
			if t := strings.TrimSpace(alt.Transcript); t != "" {
				parts = append(parts, t)
			}
			if lang == "" && len(alt.Languages) > 0 {
				lang = alt.Languages[0]
			}
			if resp.Channel.DetectedLanguage != "" {
				lang = resp.Channel.DetectedLanguage
			}
		}
	}
}

// ---- wire format ----

// deepgramResponse is the JSON structure of Results and Metadata events.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		DetectedLanguage string `json:"detected_language"`
		Alternatives     []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse decodes a raw WebSocket message. Messages that are not
// JSON objects are reported as not ok.
func parseDeepgramResponse(data []byte) (deepgramResponse, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return deepgramResponse{}, false
	}
	return resp, resp.Type != ""
}
