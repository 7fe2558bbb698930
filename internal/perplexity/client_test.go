package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kapu/snail-tg-bot/internal/sanitize"
	"github.com/valyala/fasthttp"
)

type fakeStep struct {
	status int
	body   string
	err    error
}

// fakeTransport replays a scripted sequence of responses and records
// every request body it saw.
type fakeTransport struct {
	steps  []fakeStep
	calls  int
	bodies [][]byte
}

func (f *fakeTransport) DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, _ time.Time) error {
	if f.calls >= len(f.steps) {
		return errors.New("unexpected extra call")
	}
	step := f.steps[f.calls]
	f.calls++
	body := make([]byte, len(req.Body()))
	copy(body, req.Body())
	f.bodies = append(f.bodies, body)
	if step.err != nil {
		return step.err
	}
	resp.SetStatusCode(step.status)
	resp.SetBodyString(step.body)
	return nil
}

func okBody(content string, citations ...string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	if len(citations) > 0 {
		resp["citations"] = citations
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func newTestClient(t *testing.T, ft *fakeTransport) (*Client, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	c := NewClient("test-key",
		WithTransport(ft),
		WithSanitizer(sanitize.Sanitizer{MaxChars: 0}),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	return c, &sleeps
}

func TestAskRetriesRateLimitThenSucceeds(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{
		{status: 429},
		{status: 429},
		{status: 200, body: okBody("привет")},
	}}
	c, sleeps := newTestClient(t, ft)

	ans, err := c.Ask(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "привет" {
		t.Fatalf("unexpected answer: %q", ans.Text)
	}
	if ft.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", ft.calls)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*sleeps))
	}
}

func TestAskRateLimitExhausted(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{{status: 429}, {status: 429}, {status: 429}}}
	c, sleeps := newTestClient(t, ft)

	_, err := c.Ask(context.Background(), Query{Text: "q"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("no backoff after the final attempt: got %d sleeps", len(*sleeps))
	}
}

func TestAskServerErrorIsFatalImmediately(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{{status: 500, body: "boom"}}}
	c, sleeps := newTestClient(t, ft)

	_, err := c.Ask(context.Background(), Query{Text: "q"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 500 {
		t.Fatalf("expected APIError(500), got %v", err)
	}
	if ft.calls != 1 || len(*sleeps) != 0 {
		t.Fatalf("non-200 non-429 must not retry: calls=%d sleeps=%d", ft.calls, len(*sleeps))
	}
}

func TestAskTimeoutExhausted(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{
		{err: fasthttp.ErrTimeout},
		{err: fasthttp.ErrTimeout},
		{err: fasthttp.ErrTimeout},
	}}
	c, _ := newTestClient(t, ft)

	_, err := c.Ask(context.Background(), Query{Text: "q"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAskTransportErrorRetriesLikeTimeout(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{
		{err: errors.New("connection reset")},
		{status: 200, body: okBody("ок")},
	}}
	c, sleeps := newTestClient(t, ft)

	ans, err := c.Ask(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "ок" || len(*sleeps) != 1 {
		t.Fatalf("expected retry after transport error: %q sleeps=%d", ans.Text, len(*sleeps))
	}
}

func TestAskEmptyChoices(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{{status: 200, body: `{"choices":[]}`}}}
	c, _ := newTestClient(t, ft)

	_, err := c.Ask(context.Background(), Query{Text: "q"})
	if !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
}

func TestAskAppendsCitations(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{
		{status: 200, body: okBody("ответ", "https://a", "https://a", "https://b", "https://c", "https://d")},
	}}
	c, _ := newTestClient(t, ft)

	ans, err := c.Ask(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := "ответ\n\nhttps://a\nhttps://b\nhttps://c"
	if ans.Text != want {
		t.Fatalf("citations: got %q want %q", ans.Text, want)
	}
}

func TestBuildRequestModelSelection(t *testing.T) {
	ft := &fakeTransport{steps: []fakeStep{{status: 200, body: okBody("x")}}}
	c, _ := newTestClient(t, ft)

	img := &Image{Data: []byte{0x89, 0x50}, MimeType: "image/png"}
	if _, err := c.Ask(context.Background(), Query{Text: "что это", Image: img}); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(ft.bodies[0], &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Model != modelVision {
		t.Fatalf("image query should pick %s, got %s", modelVision, req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("unexpected message shape: %+v", req.Messages)
	}
	// user turn must be the multimodal array form
	var parts []map[string]any
	if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content should be an array: %v", err)
	}
	if len(parts) != 2 || parts[0]["type"] != "text" || parts[1]["type"] != "image_url" {
		t.Fatalf("unexpected content parts: %v", parts)
	}
}

func TestBuildRequestStructuredPrompt(t *testing.T) {
	c := NewClient("k")
	req := c.buildRequest(Query{Text: "реши", Structured: true})
	if req.Model != modelBaseline {
		t.Fatalf("text-only structured query keeps baseline model, got %s", req.Model)
	}
	sys, ok := req.Messages[0].Content.(string)
	if !ok {
		t.Fatalf("system content must be a string")
	}
	if len(sys) <= len(personaPrompt) {
		t.Fatalf("structured prompt should extend the persona")
	}
}
