// Package mcpserver exposes the transcript log to MCP clients.
//
// Two tools are registered:
//   - "recent_transcripts" returns the newest transcripts, optionally
//     filtered by session, speaker, and age.
//   - "search_transcripts" runs a keyword query over the log. When a
//     semantic index and an embeddings provider are configured, callers may
//     ask for similarity search instead.
//
// The server is served over the streamable HTTP transport via [Server.Handler].
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
	"github.com/MrWong99/voicescribe/pkg/store"
)

const (
	defaultLimit = 20
	maxLimit     = 200

	ModeKeyword  = "keyword"
	ModeSemantic = "semantic"
)

// Option configures a [Server].
type Option func(*Server)

// WithSemantic enables semantic search over idx using embedder.
func WithSemantic(idx store.SemanticIndex, embedder embeddings.Provider) Option {
	return func(s *Server) {
		s.index = idx
		s.embedder = embedder
	}
}

// WithClock overrides the time source used for since_minutes.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server wraps an MCP server backed by a [store.TranscriptLog].
type Server struct {
	log      store.TranscriptLog
	index    store.SemanticIndex
	embedder embeddings.Provider
	now      func() time.Time
	version  string

	srv *mcpsdk.Server
}

// New builds the server and registers its tools.
func New(log store.TranscriptLog, opts ...Option) (*Server, error) {
	if log == nil {
		return nil, errors.New("mcpserver: transcript log must not be nil")
	}
	s := &Server{log: log, now: time.Now, version: "1.0.0"}
	for _, o := range opts {
		o(s)
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voicescribe", Version: s.version}, nil)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "recent_transcripts",
		Description: "Return the most recent voice chat transcripts, oldest first.",
	}, s.recent)

	desc := "Search voice chat transcripts by keywords. All words must appear."
	if s.semanticEnabled() {
		desc += ` Set mode to "semantic" to find transcripts by meaning instead.`
	}
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "search_transcripts",
		Description: desc,
	}, s.search)
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler serves the MCP streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

func (s *Server) semanticEnabled() bool { return s.index != nil && s.embedder != nil }

// ─────────────────────────────────────────────────────────────────────────────
// tool arguments and results
// ─────────────────────────────────────────────────────────────────────────────

type recentArgs struct {
	SessionID    string `json:"session_id,omitempty" jsonschema:"restrict to one voice session"`
	SpeakerID    string `json:"speaker_id,omitempty" jsonschema:"restrict to one speaker (Discord user ID)"`
	SinceMinutes int    `json:"since_minutes,omitempty" jsonschema:"only transcripts from the last N minutes"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of transcripts (default 20, max 200)"`
}

type searchArgs struct {
	Query     string `json:"query" jsonschema:"words to search for"`
	Mode      string `json:"mode,omitempty" jsonschema:"keyword (default) or semantic"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict to one voice session"`
	SpeakerID string `json:"speaker_id,omitempty" jsonschema:"restrict to one speaker (Discord user ID)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of transcripts (default 20, max 200)"`
}

// TranscriptView is the JSON shape returned to clients.
type TranscriptView struct {
	SessionID   string  `json:"session_id,omitempty"`
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Text        string  `json:"text"`
	Language    string  `json:"language,omitempty"`
	Timestamp   string  `json:"timestamp"`
	Duration    float64 `json:"duration_seconds"`
	Distance    float64 `json:"distance,omitempty"`
}

// Transcripts is the structured output of both tools.
type Transcripts struct {
	Transcripts []TranscriptView `json:"transcripts"`
}

// ─────────────────────────────────────────────────────────────────────────────
// handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) recent(ctx context.Context, _ *mcpsdk.CallToolRequest, a recentArgs) (*mcpsdk.CallToolResult, Transcripts, error) {
	if a.SinceMinutes < 0 {
		return nil, Transcripts{}, errors.New("since_minutes must not be negative")
	}
	opts := store.SearchOpts{
		SessionID: a.SessionID,
		SpeakerID: a.SpeakerID,
		Limit:     clampLimit(a.Limit),
	}
	if a.SinceMinutes > 0 {
		opts.After = s.now().Add(-time.Duration(a.SinceMinutes) * time.Minute)
	}
	ts, err := s.log.Recent(ctx, opts)
	if err != nil {
		return nil, Transcripts{}, fmt.Errorf("recent_transcripts: %w", err)
	}
	return result(fromTranscripts(ts))
}

func (s *Server) search(ctx context.Context, _ *mcpsdk.CallToolRequest, a searchArgs) (*mcpsdk.CallToolResult, Transcripts, error) {
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return nil, Transcripts{}, errors.New("query must not be empty")
	}
	limit := clampLimit(a.Limit)

	switch a.Mode {
	case "", ModeKeyword:
		ts, err := s.log.Search(ctx, query, store.SearchOpts{
			SessionID: a.SessionID,
			SpeakerID: a.SpeakerID,
			Limit:     limit,
		})
		if err != nil {
			return nil, Transcripts{}, fmt.Errorf("search_transcripts: %w", err)
		}
		return result(fromTranscripts(ts))
	case ModeSemantic:
		if !s.semanticEnabled() {
			return nil, Transcripts{}, errors.New("semantic search is not configured")
		}
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, Transcripts{}, fmt.Errorf("search_transcripts: embed query: %w", err)
		}
		hits, err := s.index.Search(ctx, vec, limit, store.ChunkFilter{
			SessionID: a.SessionID,
			SpeakerID: a.SpeakerID,
		})
		if err != nil {
			return nil, Transcripts{}, fmt.Errorf("search_transcripts: %w", err)
		}
		return result(fromChunks(hits))
	default:
		return nil, Transcripts{}, fmt.Errorf("unknown mode %q", a.Mode)
	}
}

func result(out Transcripts) (*mcpsdk.CallToolResult, Transcripts, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, Transcripts{}, fmt.Errorf("encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, out, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func fromTranscripts(ts []store.Transcript) Transcripts {
	out := Transcripts{Transcripts: make([]TranscriptView, 0, len(ts))}
	for _, t := range ts {
		out.Transcripts = append(out.Transcripts, TranscriptView{
			SessionID:   t.SessionID,
			SpeakerID:   t.SpeakerID,
			SpeakerName: t.SpeakerName,
			Text:        t.Text,
			Language:    t.Language,
			Timestamp:   t.Timestamp.UTC().Format(time.RFC3339),
			Duration:    t.Duration.Seconds(),
		})
	}
	return out
}

func fromChunks(hits []store.ChunkResult) Transcripts {
	out := Transcripts{Transcripts: make([]TranscriptView, 0, len(hits))}
	for _, h := range hits {
		out.Transcripts = append(out.Transcripts, TranscriptView{
			SessionID: h.Chunk.SessionID,
			SpeakerID: h.Chunk.SpeakerID,
			Text:      h.Chunk.Content,
			Timestamp: h.Chunk.Timestamp.UTC().Format(time.RFC3339),
			Distance:  h.Distance,
		})
	}
	return out
}
