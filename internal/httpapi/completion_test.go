package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llmchat/backend/internal/credits"
	"llmchat/backend/internal/openrouter"
	"llmchat/backend/internal/stream"
	"llmchat/backend/internal/threads"
)

func completionBody(mode string) string {
	return `{"mode":"` + mode + `","prompt":"What is SSE?","threadId":"thread-1","threadItemId":"item-1"}`
}

func postCompletion(h Handler, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/completion", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func TestCompletionRejectsInvalidBodyBeforeStreaming(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})

	resp := postCompletion(handler, `{"prompt":"hi","extra":true}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusBadRequest, resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error, got content type %q", ct)
	}
	var body completionErrorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != "Invalid request body" || len(body.Details) == 0 {
		t.Fatalf("unexpected error body: %+v", body)
	}
	fields := map[string]bool{}
	for _, d := range body.Details {
		fields[d.Field] = true
	}
	for _, want := range []string{"mode", "threadId", "threadItemId", "extra"} {
		if !fields[want] {
			t.Fatalf("missing detail for %q in %+v", want, body.Details)
		}
	}
}

func TestCompletionRejectsMalformedJSON(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})

	resp := postCompletion(handler, `{"mode":`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusBadRequest, resp.Code, resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "event:") {
		t.Fatalf("no stream frames expected: %s", resp.Body.String())
	}
}

func TestCompletionRejectsUnknownMode(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})

	resp := postCompletion(handler, completionBody("no-such-mode"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusBadRequest, resp.Code, resp.Body.String())
	}
	var body completionErrorResponse
	decodeJSONBody(t, resp, &body)
	if len(body.Details) != 1 || body.Details[0].Field != "mode" {
		t.Fatalf("unexpected details: %+v", body.Details)
	}
}

func TestCompletionRequiresSignInForProtectedMode(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{tokens: []string{"never"}})

	resp := postCompletion(handler, completionBody("pro"))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusUnauthorized, resp.Code, resp.Body.String())
	}
	var body completionErrorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != "Authentication required" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestCompletionStreamsAndPersistsForSignedInUser(t *testing.T) {
	var got openrouter.StreamRequest
	handler, database := newTestHandler(t, stubStreamer{
		tokens:    []string{"Server-Sent ", "Events."},
		onRequest: func(req openrouter.StreamRequest) { got = req },
	})
	seedUser(t, database, "user-1", "user1@example.com")

	resp := postCompletion(handler, completionBody("pro"), sessionCookie(t, handler, "user-1"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := resp.Body.String()
	if strings.Count(body, "event: done") != 1 {
		t.Fatalf("expected exactly one terminal frame: %q", body)
	}
	if !strings.HasSuffix(body, `data: {"type":"done","status":"completed","threadId":"thread-1","threadItemId":"item-1","parentThreadItemId":""}`+"\n\n") {
		t.Fatalf("terminal frame must be last: %q", body)
	}
	if !strings.Contains(body, `"text":"Server-Sent Events.","status":"COMPLETED"`) {
		t.Fatalf("missing final answer frame: %q", body)
	}
	if got.Model != "google/gemini-2.0-flash-001" {
		t.Fatalf("unexpected upstream model %q", got.Model)
	}

	items, err := threads.NewStore(database).ListItems(context.Background(), "user-1", "thread-1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].Status != threads.ItemCompleted || items[0].Answer != "Server-Sent Events." {
		t.Fatalf("unexpected persisted items: %+v", items)
	}
}

func TestCompletionUpstreamFailureEndsWithErrorFrame(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{
		tokens: []string{"partial"},
		err:    openrouter.APIError{StatusCode: http.StatusBadGateway, Body: "upstream down"},
	})

	resp := postCompletion(handler, completionBody("chat"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected stream to open, got %d", resp.Code)
	}
	body := resp.Body.String()
	if strings.Count(body, "event: done") != 1 {
		t.Fatalf("expected exactly one terminal frame: %q", body)
	}
	if !strings.Contains(body, `"status":"error"`) || !strings.Contains(body, `"error":"openrouter returned 502: upstream down"`) {
		t.Fatalf("expected error terminal frame: %q", body)
	}
}

func TestCompletionEnforcesDailyCredits(t *testing.T) {
	limiter := credits.NewLimiter(credits.NewMemoryStore(), 1, 10)
	handler, _ := newTestHandlerWithConfig(t, testConfig(), stubStreamer{tokens: []string{"ok"}}, limiter)

	first := postCompletion(handler, completionBody("chat"))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first completion to stream, got %d (%s)", first.Code, first.Body.String())
	}

	second := postCompletion(handler, completionBody("chat"))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusTooManyRequests, second.Code, second.Body.String())
	}
	var body completionErrorResponse
	decodeJSONBody(t, second, &body)
	if body.Error != "Daily credit limit reached" || body.Remaining == nil || *body.Remaining != 0 {
		t.Fatalf("unexpected error body: %s", second.Body.String())
	}
}

func TestCompletionPanicBeforeStreamReturnsInternalError(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	handler.validator = nil

	resp := postCompletion(handler, completionBody("chat"))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusInternalServerError, resp.Code, resp.Body.String())
	}
	var body completionErrorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != "Internal server error" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestCompletionOptionsReturnsStreamHeaders(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	routes := handler.Routes()

	bare := httptest.NewRecorder()
	routes.ServeHTTP(bare, httptest.NewRequest(http.MethodOptions, "/v1/completion", nil))
	if bare.Code != http.StatusOK || bare.Body.Len() != 0 {
		t.Fatalf("unexpected bare OPTIONS response: %d %q", bare.Code, bare.Body.String())
	}
	if ct := bare.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/v1/completion", nil)
	preflight.Header.Set("Origin", testOrigin)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	routes.ServeHTTP(resp, preflight)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := resp.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control %q", got)
	}
}

type blockingStreamer struct{}

func (blockingStreamer) StreamChatCompletion(ctx context.Context, _ openrouter.StreamRequest, _ openrouter.StreamHandlers) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCompletionTimeoutEndsWithErrorFrame(t *testing.T) {
	cfg := testConfig()
	cfg.CompletionTimeout = 20 * time.Millisecond
	handler, _ := newTestHandlerWithConfig(t, cfg, blockingStreamer{}, nil)

	resp := postCompletion(handler, completionBody("chat"))

	body := resp.Body.String()
	if !strings.Contains(body, `"status":"error"`) || !strings.Contains(body, "completion timed out after 20ms") {
		t.Fatalf("expected timeout error frame: %q", body)
	}
}

func TestWithTimeoutPassesThroughWithoutLimit(t *testing.T) {
	exec := stream.ExecutorFunc(func(context.Context, *stream.Session) error { return errors.New("boom") })
	if _, ok := withTimeout(exec, 0).(stream.ExecutorFunc); !ok {
		t.Fatal("expected the executor to be returned unchanged")
	}
}

func TestGeoFromHeadersDecodesCity(t *testing.T) {
	h := http.Header{}
	h.Set("X-Vercel-IP-City", "S%C3%A3o%20Paulo")
	h.Set("X-Vercel-IP-Country-Region", "SP")
	h.Set("X-Vercel-IP-Country", "BR")

	geo := geoFromHeaders(h)
	if geo.City != "São Paulo" || geo.Region != "SP" || geo.Country != "BR" {
		t.Fatalf("unexpected geo: %+v", geo)
	}
}
