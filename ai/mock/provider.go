// Package mock provides a scripted Generator for tests and development.
// Responses can be queued per call or produced by a handler function.
package mock

import (
	"context"
	"sync"

	"github.com/wardline/wardline/ai"
)

// Provider is a scriptable ai.Generator / ai.StreamGenerator
type Provider struct {
	mu sync.Mutex

	// Handler, when set, computes every response
	Handler func(req *ai.Request) (*ai.Response, error)

	// queued responses consumed in order when Handler is nil
	responses []queued

	// Calls records every request received
	Calls []*ai.Request
}

type queued struct {
	resp *ai.Response
	err  error
}

// New creates an empty mock provider that echoes the prompt by default
func New() *Provider {
	return &Provider{}
}

// Queue appends a scripted response
func (p *Provider) Queue(resp *ai.Response, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, queued{resp: resp, err: err})
}

// Generate returns the next scripted response, the handler result, or an
// echo of the user prompt.
func (p *Provider) Generate(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	handler := p.Handler
	var next *queued
	if handler == nil && len(p.responses) > 0 {
		next = &p.responses[0]
		p.responses = p.responses[1:]
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if handler != nil {
		return handler(req)
	}
	if next != nil {
		return next.resp, next.err
	}
	return &ai.Response{
		Text:       req.UserPrompt,
		TokensUsed: len(req.UserPrompt) / 4,
		Model:      "mock-1",
	}, nil
}

// GenerateStream tokenizes the Generate result into word events
func (p *Provider) GenerateStream(ctx context.Context, req *ai.Request) (<-chan ai.StreamEvent, error) {
	resp, err := p.Generate(ctx, req)
	events := make(chan ai.StreamEvent, 64)

	go func() {
		defer close(events)
		if err != nil {
			events <- ai.StreamEvent{Type: ai.StreamError, Code: "PROVIDER_ERROR"}
			return
		}
		for _, word := range splitKeepingSpaces(resp.Text) {
			select {
			case <-ctx.Done():
				return
			case events <- ai.StreamEvent{Type: ai.StreamToken, Text: word}:
			}
		}
		events <- ai.StreamEvent{Type: ai.StreamDone, TokensUsed: resp.TokensUsed, Model: resp.Model}
	}()

	return events, nil
}

// CallCount returns the number of Generate calls received
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

func splitKeepingSpaces(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
