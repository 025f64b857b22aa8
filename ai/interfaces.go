// Package ai defines the LLM provider contract consumed by the pipeline.
// Providers are external collaborators: the pipeline depends only on the
// Generator interface and the transient/permanent error split, never on a
// concrete vendor SDK.
package ai

import (
	"context"
	"errors"
)

// Message is a single turn of conversation history
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GenerateOptions configures a single generation call
type GenerateOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Request is a generation request
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerateOptions
	History      []Message
}

// Response is a completed generation
type Response struct {
	Text       string
	TokensUsed int
	Model      string
}

// Generator produces a full response for a request
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// StreamEventType discriminates streaming events
type StreamEventType string

const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one event from a streaming generation
type StreamEvent struct {
	Type       StreamEventType
	Text       string // set for token events
	TokensUsed int    // set for done events
	Model      string // set for done events
	Code       string // set for error events
}

// StreamGenerator produces a response as a stream of token events ending
// with done or error. The returned channel is closed by the provider.
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}

// Transient/permanent error classification. Transient errors are retried;
// permanent errors are surfaced immediately.
var (
	ErrTransient = errors.New("transient provider error")
	ErrPermanent = errors.New("permanent provider error")
)

// IsTransient reports whether a generation error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
