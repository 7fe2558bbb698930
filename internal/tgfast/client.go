package tgfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultAPIBase = "https://api.telegram.org"

// maxMessageLen is the Bot API hard limit for one sendMessage call.
const maxMessageLen = 4096

type Client struct {
	token   string
	apiBase string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int

	botID int64
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithAPIBase overrides the Bot API host (tests point it at a local server).
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:          token,
		apiBase:        defaultAPIBase,
		http:           &fasthttp.Client{ReadTimeout: 65 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMe resolves and caches the bot's own identity.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u, true); err != nil {
		return nil, err
	}
	c.botID = u.ID
	return &u, nil
}

// BotID returns the id cached by GetMe, or 0 before the first call.
func (c *Client) BotID() int64 { return c.botID }

// SendMessage sends plain text, splitting at the API length limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		req := sendMessageRequest{ChatID: chatID, Text: part}
		if err := c.call(ctx, "sendMessage", req, nil, false); err != nil {
			return err
		}
	}
	return nil
}

// Reply sends text as a reply to a specific message.
func (c *Client) Reply(ctx context.Context, chatID, replyTo int64, text string) error {
	parts := splitMessage(text, maxMessageLen)
	for i, part := range parts {
		req := sendMessageRequest{ChatID: chatID, Text: part}
		if i == 0 {
			req.ReplyToMessageID = replyTo
		}
		if err := c.call(ctx, "sendMessage", req, nil, false); err != nil {
			return err
		}
	}
	return nil
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	req := getUpdatesRequest{Offset: offset, Timeout: timeoutSec, AllowedUpdates: []string{"message"}}
	var updates []Update
	// long poll: the server holds the request up to timeoutSec, so the
	// deadline must cover the poll window plus transfer slack
	dctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second+c.defaultTimeout)
	defer cancel()
	if err := c.call(dctx, "getUpdates", req, &updates, false); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetFile resolves a file id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", getFileRequest{FileID: fileID}, &f, true); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) call(ctx context.Context, method string, in any, out any, retry bool) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			if attempt == attempts || !retry {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := fmt.Errorf("telegram api error: status=%d body=%s", status, truncateBody(string(resp.Body()), 512))
			if attempt == attempts || !retry || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		var env apiResponse
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if !env.OK {
			return fmt.Errorf("telegram: %s (code %d)", env.Description, env.ErrorCode)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
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

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// splitMessage cuts text into API-sized chunks, preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}
