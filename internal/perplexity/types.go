package perplexity

import (
	"errors"
	"fmt"
)

// Query is one question for the completion service.
type Query struct {
	Text  string
	Image *Image
	// Context is an extra persona line, e.g. who the bot is talking to.
	Context string
	// Structured marks problem-solving questions that get the stricter
	// system prompt and, with an image, the upgraded model.
	Structured bool
}

// Image is raw attachment data ready for data-URI encoding.
type Image struct {
	Data     []byte
	MimeType string
}

// Answer is a sanitized completion plus any citation links the provider
// returned.
type Answer struct {
	Text      string
	Citations []string
}

// Typed failures; the dispatcher maps each to one user-facing sentence.
var (
	ErrRateLimited = errors.New("perplexity: rate limited")
	ErrTimeout     = errors.New("perplexity: request timed out")
	ErrEmptyAnswer = errors.New("perplexity: empty completion")
	ErrTransport   = errors.New("perplexity: transport error")
)

// APIError is a non-200, non-429 provider response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("perplexity: api error status=%d body=%s", e.Status, e.Body)
}

// Wire structs for the chat-completions contract.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations,omitempty"`
}
