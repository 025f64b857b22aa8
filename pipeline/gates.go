package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wardline/wardline/ai"
	"github.com/wardline/wardline/core"
)

// Gate is one stage of the pipeline. Gates mutate the shared state and
// signal short-circuits through the returned status; a Go error means
// the gate itself broke, not that the request was rejected.
type Gate interface {
	Name() string
	Run(ctx context.Context, state *State) (GateStatus, error)
}

var (
	makeRe = regexp.MustCompile(`(?i)\b(write|create|draft|generate|compose|make me|build me)\b`)
	fixRe  = regexp.MustCompile(`(?i)\b(fix|correct|revise|rewrite|redo|change (that|this|it))\b`)
	doRe   = regexp.MustCompile(`(?i)\b(schedule|remind me|set (a|an|up)|send|cancel my|book)\b`)
)

// IntentGate classifies the message into a coarse route. Routing is
// deterministic and errs toward SAY.
type IntentGate struct{}

func (g *IntentGate) Name() string { return "intent" }

func (g *IntentGate) Run(ctx context.Context, state *State) (GateStatus, error) {
	message := state.Request.Message
	switch {
	case fixRe.MatchString(message):
		state.Route = RouteFix
	case doRe.MatchString(message):
		state.Route = RouteDo
	case makeRe.MatchString(message):
		state.Route = RouteMake
	default:
		state.Route = RouteSay
	}
	return StatusPass, nil
}

// CapabilityGate verifies a generator is available for the request and
// resolves generation options. It halts the pipeline when no provider
// can serve the request.
type CapabilityGate struct {
	Registry *ai.Registry
	Model    string
}

func (g *CapabilityGate) Name() string { return "capability" }

func (g *CapabilityGate) Run(ctx context.Context, state *State) (GateStatus, error) {
	if g.Registry == nil {
		return StatusFail, fmt.Errorf("no generator registry: %w", core.ErrConfiguration)
	}
	if _, err := g.Registry.Get(""); err != nil {
		return StatusFail, fmt.Errorf("no generator available: %w", err)
	}
	return StatusPass, nil
}

// PersonalityValidator judges a draft response. A non-nil error rejects
// the draft and triggers regeneration.
type PersonalityValidator func(state *State, draft string) error

// DefaultPersonalityValidator rejects empty drafts and boilerplate
// self-reference.
func DefaultPersonalityValidator(state *State, draft string) error {
	trimmed := strings.TrimSpace(draft)
	if trimmed == "" {
		return fmt.Errorf("empty draft")
	}
	lowered := strings.ToLower(trimmed)
	for _, banned := range []string{
		"as an ai language model",
		"as an ai assistant",
		"i cannot and will not",
	} {
		if strings.Contains(lowered, banned) {
			return fmt.Errorf("boilerplate self-reference %q", banned)
		}
	}
	return nil
}
