package perplexity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kapu/snail-tg-bot/internal/obslog"
	"github.com/kapu/snail-tg-bot/internal/sanitize"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.perplexity.ai"

// transport is what the client needs from fasthttp; tests inject a fake.
type transport interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

type Client struct {
	apiKey  string
	baseURL string
	http    transport
	san     sanitize.Sanitizer

	attempts         int
	attemptTimeout   time.Duration
	rateLimitBackoff time.Duration
	transportBackoff time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTransport(t transport) Option {
	return func(c *Client) { c.http = t }
}

func WithSanitizer(s sanitize.Sanitizer) Option {
	return func(c *Client) { c.san = s }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithSleeper overrides backoff sleeping; tests record instead of waiting.
func WithSleeper(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = f }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:           apiKey,
		baseURL:          defaultBaseURL,
		http:             &fasthttp.Client{ReadTimeout: 120 * time.Second, WriteTimeout: 30 * time.Second, MaxConnsPerHost: 8},
		san:              sanitize.Sanitizer{MaxChars: 3500},
		attempts:         3,
		attemptTimeout:   90 * time.Second,
		rateLimitBackoff: 3 * time.Second,
		transportBackoff: time.Second,
		sleep:            sleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask runs one completion with the fixed retry policy: up to three
// attempts, 429 and transport failures retried after a backoff, any other
// non-200 fatal immediately. The raw completion goes through the
// sanitization pipeline before it is returned.
func (c *Client) Ask(ctx context.Context, q Query) (*Answer, error) {
	payload, err := json.Marshal(c.buildRequest(q))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/chat/completions")
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.SetBody(payload)

	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err != nil {
			kind, backoff := classifyTransport(err), c.transportBackoff
			if attempt == c.attempts {
				return nil, kind
			}
			obslog.L().Warn("perplexity_retry", zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
				return nil, kind
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusOK:
			return c.parse(resp.Body())
		case status == fasthttp.StatusTooManyRequests:
			if attempt == c.attempts {
				return nil, ErrRateLimited
			}
			obslog.L().Warn("perplexity_rate_limited", zap.Int("attempt", attempt))
			if sleepErr := c.sleep(ctx, c.rateLimitBackoff); sleepErr != nil {
				return nil, ErrRateLimited
			}
		default:
			return nil, &APIError{Status: status, Body: truncateBody(string(resp.Body()), 512)}
		}
	}
	return nil, ErrTimeout
}

func (c *Client) buildRequest(q Query) chatRequest {
	msgs := []chatMessage{
		{Role: "system", Content: systemPrompt(q.Structured, q.Context)},
	}
	if q.Image != nil {
		uri := fmt.Sprintf("data:%s;base64,%s", q.Image.MimeType, base64.StdEncoding.EncodeToString(q.Image.Data))
		msgs = append(msgs, chatMessage{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: q.Text},
				{Type: "image_url", ImageURL: &imageURL{URL: uri}},
			},
		})
	} else {
		msgs = append(msgs, chatMessage{Role: "user", Content: q.Text})
	}
	return chatRequest{Model: pickModel(q), Messages: msgs, Temperature: 0.7}
}

func (c *Client) parse(body []byte) (*Answer, error) {
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyAnswer
	}
	clean := c.san.Clean(out.Choices[0].Message.Content)
	if strings.TrimSpace(clean) == "" {
		return nil, ErrEmptyAnswer
	}
	return &Answer{
		Text:      sanitize.AppendCitations(clean, out.Citations),
		Citations: out.Citations,
	}, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.attemptTimeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

// classifyTransport separates timeouts from other transport failures; both
// retry, but they surface as different typed errors when exhausted.
func classifyTransport(err error) error {
	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
