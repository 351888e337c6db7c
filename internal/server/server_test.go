package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistd/assistd/internal/auth"
	"github.com/assistd/assistd/internal/chat"
	"github.com/assistd/assistd/internal/event"
	"github.com/assistd/assistd/internal/provider"
	"github.com/assistd/assistd/internal/tool"
)

type stubVerifier struct {
	session *auth.Session
}

func (s *stubVerifier) Verify(context.Context, string) (*auth.Session, error) {
	return s.session, nil
}

type scriptedProvider struct {
	scripts [][]*schema.Message
	calls   int
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) CreateCompletion(_ context.Context, _ *provider.CompletionRequest) (*provider.CompletionStream, error) {
	p.calls++
	script := p.scripts[p.calls-1]
	return provider.NewCompletionStream(schema.StreamReaderFromArray(script)), nil
}

func newTestServer(t *testing.T, p provider.Provider, session *auth.Session) (*Server, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	registry := tool.NewRegistry()
	orchestrator := chat.NewOrchestrator(p, registry, bus, chat.Options{Model: "test-model"})
	return New(DefaultConfig(), &stubVerifier{session: session}, orchestrator, registry, bus), bus
}

func textScript(chunks ...string) [][]*schema.Message {
	msgs := make([]*schema.Message, 0, len(chunks)+1)
	for _, c := range chunks {
		msgs = append(msgs, &schema.Message{Role: schema.Assistant, Content: c})
	}
	msgs = append(msgs, &schema.Message{
		Role:         schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"},
	})
	return [][]*schema.Message{msgs}
}

func TestChat_Unauthorized(t *testing.T) {
	p := &scriptedProvider{scripts: textScript("hi")}
	srv, _ := newTestServer(t, p, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, p.calls, "no model call without a session")
}

func TestChat_InvalidBodyIsSingleShot400(t *testing.T) {
	p := &scriptedProvider{scripts: textScript("hi")}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"messages": "nope"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error   string                `json:"error"`
		Details []tool.FieldViolation `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Invalid request", body.Error)
	require.NotEmpty(t, body.Details)
	assert.Equal(t, "messages", body.Details[0].Field)
	assert.Zero(t, p.calls, "no model call after a validation failure")
}

func TestChat_HappyPathStreamsSSE(t *testing.T) {
	p := &scriptedProvider{scripts: textScript("Hello", "Hello world")}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: text-delta\n")
	assert.Contains(t, body, `"delta":"Hello"`)
	assert.Contains(t, body, `"delta":" world"`)
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, `"finishReason":"stop"`)
	assert.Equal(t, 1, p.calls)

	// done is the last frame
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	assert.True(t, strings.HasPrefix(frames[len(frames)-1], "event: done"), "stream ends with done, got %q", frames[len(frames)-1])
}

// blockingProvider opens a stream that yields nothing until the request
// context fires, like a live connection that stops producing chunks.
type blockingProvider struct{}

func (p *blockingProvider) ID() string { return "blocking" }

func (p *blockingProvider) CreateCompletion(ctx context.Context, _ *provider.CompletionRequest) (*provider.CompletionStream, error) {
	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		<-ctx.Done()
		sw.Send(nil, ctx.Err())
		sw.Close()
	}()
	return provider.NewCompletionStream(sr), nil
}

func TestChat_TimeoutIsTerminalErrorFrame(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	registry := tool.NewRegistry()
	orchestrator := chat.NewOrchestrator(&blockingProvider{}, registry, bus, chat.Options{Model: "test-model"})

	cfg := DefaultConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	srv := New(cfg, &stubVerifier{session: &auth.Session{UserID: "u1"}}, orchestrator, registry, bus)

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"kind":"timeout"`)

	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	last := frames[len(frames)-1]
	assert.True(t, strings.HasPrefix(last, "event: error"), "timeout ends the stream, got %q", last)
	assert.NotContains(t, body, "event: done", "no success terminal after a timeout")
}

func TestChat_OversizedBodyRejected(t *testing.T) {
	p := &scriptedProvider{scripts: textScript("hi")}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	huge := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", maxChatBodyBytes) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(huge))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, p.calls)
}

func TestPageRedirectsToLogin(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?redirect=%2Fdashboard", rec.Header().Get("Location"))
}

func TestHealthzIsPublic(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTools(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	req := httptest.NewRequest(http.MethodGet, "/api/ai/tools", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []tool.Declaration `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tools, len(tool.AllNames()))

	serverExecuted := 0
	for _, d := range body.Tools {
		if d.ServerExecuted {
			serverExecuted++
			assert.Equal(t, tool.EditFileWithPatch, d.Name)
		}
	}
	assert.Equal(t, 1, serverExecuted)
}

func TestRenderDiff(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	body := `{"path":"main.go","before":"package main\n\nfunc main() {}\n","after":"package main\n\nfunc main() { run() }\n"}`
	req := httptest.NewRequest(http.MethodPost, "/api/ai/diff", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Diff      string `json:"diff"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Diff, "--- a/main.go\n")
	assert.Contains(t, resp.Diff, "+++ b/main.go\n")
	assert.Contains(t, resp.Diff, "-func main() {}")
	assert.Contains(t, resp.Diff, "+func main() { run() }")
	assert.Equal(t, 1, resp.Additions)
	assert.Equal(t, 1, resp.Deletions)
}

func TestRenderDiff_IdenticalVersions(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/diff", strings.NewReader(`{"path":"a.go","before":"x\n","after":"x\n"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"diff":""`)
}

func TestRenderDiff_MissingPath(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, &auth.Session{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/diff", strings.NewReader(`{"before":"x","after":"y"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request")
}

func TestListTools_Unauthorized(t *testing.T) {
	p := &scriptedProvider{}
	srv, _ := newTestServer(t, p, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ai/tools", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
