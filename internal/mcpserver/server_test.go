package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	embedmock "github.com/MrWong99/voicescribe/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voicescribe/pkg/store"
	storemock "github.com/MrWong99/voicescribe/pkg/store/mock"
)

var testNow = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

func seedLog(t *testing.T) *storemock.Log {
	t.Helper()
	log := &storemock.Log{}
	entries := []store.Transcript{
		{SessionID: "s1", SpeakerID: "1", SpeakerName: "Kasia", Text: "the deploy failed again", Timestamp: testNow.Add(-90 * time.Minute), Duration: 2 * time.Second},
		{SessionID: "s1", SpeakerID: "2", SpeakerName: "Janek", Text: "restart the cluster", Timestamp: testNow.Add(-30 * time.Minute), Duration: time.Second},
		{SessionID: "s2", SpeakerID: "1", SpeakerName: "Kasia", Text: "cluster looks healthy now", Timestamp: testNow.Add(-5 * time.Minute), Duration: 1500 * time.Millisecond},
	}
	for _, e := range entries {
		if _, err := log.Write(context.Background(), e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return log
}

// connect returns a client session talking to s over in-memory transports.
func connect(t *testing.T, s *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) Transcripts {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool %s returned tool error: %v", name, textOf(res))
	}
	var out Transcripts
	if err := json.Unmarshal([]byte(textOf(res)), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func textOf(res *mcpsdk.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func texts(out Transcripts) []string {
	var s []string
	for _, v := range out.Transcripts {
		s = append(s, v.Text)
	}
	return s
}

func TestNew_NilLog(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil log")
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()
	s, err := New(&storemock.Log{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cs := connect(t, s)

	got := map[string]bool{}
	for tool, err := range cs.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		got[tool.Name] = true
	}
	for _, want := range []string{"recent_transcripts", "search_transcripts"} {
		if !got[want] {
			t.Errorf("tool %q not listed", want)
		}
	}
}

func TestRecentTranscripts(t *testing.T) {
	t.Parallel()
	s, err := New(seedLog(t), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cs := connect(t, s)

	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"all", map[string]any{}, []string{"the deploy failed again", "restart the cluster", "cluster looks healthy now"}},
		{"limit", map[string]any{"limit": 1}, []string{"cluster looks healthy now"}},
		{"speaker", map[string]any{"speaker_id": "2"}, []string{"restart the cluster"}},
		{"since", map[string]any{"since_minutes": 60}, []string{"restart the cluster", "cluster looks healthy now"}},
		{"session", map[string]any{"session_id": "s2"}, []string{"cluster looks healthy now"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := call(t, cs, "recent_transcripts", tt.args)
			got := texts(out)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRecentTranscripts_View(t *testing.T) {
	t.Parallel()
	s, _ := New(seedLog(t))
	cs := connect(t, s)

	out := call(t, cs, "recent_transcripts", map[string]any{"limit": 1})
	want := TranscriptView{
		SessionID:   "s2",
		SpeakerID:   "1",
		SpeakerName: "Kasia",
		Text:        "cluster looks healthy now",
		Timestamp:   "2026-05-01T19:55:00Z",
		Duration:    1.5,
	}
	if len(out.Transcripts) != 1 || out.Transcripts[0] != want {
		t.Errorf("view = %+v, want %+v", out.Transcripts, want)
	}
}

func TestSearchTranscripts_Keyword(t *testing.T) {
	t.Parallel()
	log := seedLog(t)
	s, _ := New(log)
	cs := connect(t, s)

	out := call(t, cs, "search_transcripts", map[string]any{"query": "Cluster"})
	if got := texts(out); len(got) != 2 {
		t.Fatalf("got %v, want two cluster transcripts", got)
	}
	out = call(t, cs, "search_transcripts", map[string]any{"query": "cluster", "session_id": "s1"})
	if got := texts(out); len(got) != 1 || got[0] != "restart the cluster" {
		t.Errorf("session-filtered search = %v", got)
	}
	if len(log.SearchQueries) != 2 {
		t.Errorf("log saw %d searches, want 2", len(log.SearchQueries))
	}
}

func TestSearchTranscripts_EmptyQuery(t *testing.T) {
	t.Parallel()
	s, _ := New(seedLog(t))
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "search_transcripts",
		Arguments: map[string]any{"query": "   "},
	})
	if err == nil && !res.IsError {
		t.Fatal("expected a tool error for blank query")
	}
}

func TestSearchTranscripts_SemanticNotConfigured(t *testing.T) {
	t.Parallel()
	s, _ := New(seedLog(t))
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "search_transcripts",
		Arguments: map[string]any{"query": "cluster", "mode": "semantic"},
	})
	if err == nil && !res.IsError {
		t.Fatal("expected a tool error when semantic search is not configured")
	}
}

func TestSearchTranscripts_Semantic(t *testing.T) {
	t.Parallel()
	idx := &storemock.Index{}
	ctx := context.Background()
	for _, c := range []store.Chunk{
		{ID: "a", SessionID: "s1", SpeakerID: "1", Content: "deploy failed", Embedding: []float32{1, 0}, Timestamp: testNow},
		{ID: "b", SessionID: "s1", SpeakerID: "2", Content: "pizza tonight", Embedding: []float32{0, 1}, Timestamp: testNow},
	} {
		if err := idx.IndexChunk(ctx, c); err != nil {
			t.Fatalf("IndexChunk: %v", err)
		}
	}
	emb := &embedmock.Provider{EmbedResult: []float32{0.9, 0.1}}
	s, _ := New(seedLog(t), WithSemantic(idx, emb))
	cs := connect(t, s)

	out := call(t, cs, "search_transcripts", map[string]any{"query": "broken release", "mode": "semantic", "limit": 1})
	if got := texts(out); len(got) != 1 || got[0] != "deploy failed" {
		t.Errorf("semantic search = %v, want [deploy failed]", got)
	}
	if len(emb.Texts) != 1 || emb.Texts[0] != "broken release" {
		t.Errorf("embedded texts = %v", emb.Texts)
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	t.Parallel()
	s, _ := New(seedLog(t))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: srv.URL}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cs.Close()

	out := call(t, cs, "recent_transcripts", map[string]any{"limit": 2})
	if n := len(out.Transcripts); n != 2 {
		t.Errorf("got %d transcripts, want 2", n)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	for in, want := range map[int]int{-1: defaultLimit, 0: defaultLimit, 5: 5, 1000: maxLimit} {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
