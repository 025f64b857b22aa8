package shield

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/wardline/wardline/core"
)

// Signal is the severity of safety concern detected in a message
type Signal string

const (
	SignalNone   Signal = "none"
	SignalLow    Signal = "low"
	SignalMedium Signal = "medium"
	SignalHigh   Signal = "high"
	SignalCrisis Signal = "crisis"
)

// State is the per-user safety state, persisted across requests
type State string

const (
	StateClear  State = "clear"
	StateWarned State = "warned"
	StateCrisis State = "crisis"
)

// Action is what the pipeline must do with this request
type Action string

const (
	ActionProceed  Action = "proceed"   // continue normally
	ActionWarn     Action = "warn"      // continue with a supportive preamble
	ActionAwaitAck Action = "await_ack" // halt until the user acknowledges
	ActionCrisis   Action = "crisis"    // render crisis resources first
)

// crisisSessionTTL bounds how long a crisis session persists without
// further signals before a user returns to warned handling.
const crisisSessionTTL = 24 * time.Hour

var crisisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(kill(ing)? myself|end(ing)? my life|suicide|suicidal)\b`),
	regexp.MustCompile(`(?i)\b(want|going|plan(ning)?) to die\b`),
	regexp.MustCompile(`(?i)\bno reason to (live|go on|keep going)\b`),
	regexp.MustCompile(`(?i)\b(hurt|harm)(ing)? myself\b`),
	regexp.MustCompile(`(?i)\bbetter off without me\b`),
}

var highPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi (hate|can'?t stand) my life\b`),
	regexp.MustCompile(`(?i)\b(hopeless|worthless|pointless)\b.*\b(everything|life|always)\b`),
	regexp.MustCompile(`(?i)\bnobody (cares|would care|would notice)\b`),
	regexp.MustCompile(`(?i)\bcan'?t (take|do) (this|it) anymore\b`),
}

var mediumPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(really|so|deeply) (depressed|hopeless|empty)\b`),
	regexp.MustCompile(`(?i)\b(giving|give) up on everything\b`),
	regexp.MustCompile(`(?i)\bwhat'?s the point\b`),
}

var lowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(stressed|overwhelmed|exhausted|burn(ed|t) out)\b`),
	regexp.MustCompile(`(?i)\bfeeling (down|low|sad|anxious)\b`),
}

// DetectSignal classifies a message's safety severity. Detection is
// deterministic and checks the most severe tier first.
func DetectSignal(message string) Signal {
	for _, p := range crisisPatterns {
		if p.MatchString(message) {
			return SignalCrisis
		}
	}
	for _, p := range highPatterns {
		if p.MatchString(message) {
			return SignalHigh
		}
	}
	for _, p := range mediumPatterns {
		if p.MatchString(message) {
			return SignalMedium
		}
	}
	for _, p := range lowPatterns {
		if p.MatchString(message) {
			return SignalLow
		}
	}
	return SignalNone
}

// Decision is the engine's verdict for one request
type Decision struct {
	Signal       Signal
	State        State
	Action       Action
	AckToken     *AckToken
	WarningText  string
	ResourceHash string // set when crisis resources must render
}

// Config tunes engine behavior
type Config struct {
	// WarnAndContinue downgrades the medium-signal halt to a warning.
	// Default false: medium signals halt until acknowledged.
	WarnAndContinue bool
	// AckTokenTTL overrides the default token lifetime
	AckTokenTTL time.Duration
}

// Engine is the safety state machine. All state lives in the store so
// decisions are consistent across instances; any store failure fails
// closed, treating the request as a crisis rather than risking an
// unprotected response.
type Engine struct {
	store  core.Store
	tokens *AckTokenManager
	config Config
	logger core.Logger
	now    func() time.Time
}

// NewEngine creates a shield engine
func NewEngine(store core.Store, config Config, logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Engine{
		store:  store,
		tokens: NewAckTokenManager(store, config.AckTokenTTL, logger),
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Tokens exposes the ack-token manager for the transport layer
func (e *Engine) Tokens() *AckTokenManager {
	return e.tokens
}

type persistedState struct {
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Evaluate runs the state machine for one message and returns the
// decision. State transitions are persisted before the decision is
// returned; if persistence fails the engine fails closed.
func (e *Engine) Evaluate(ctx context.Context, userID, message string) Decision {
	signal := DetectSignal(message)
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return e.failClosed(userID, signal, err)
	}

	decision := Decision{Signal: signal, State: state}

	switch {
	case signal == SignalCrisis || state == StateCrisis:
		decision.State = StateCrisis
		decision.Action = ActionCrisis
		decision.ResourceHash = CrisisBlockHash()
		if err := e.enterCrisis(ctx, userID); err != nil {
			return e.failClosed(userID, signal, err)
		}

	case signal == SignalHigh:
		decision.State = StateWarned
		decision.Action = ActionAwaitAck
		token, err := e.tokens.Issue(ctx, userID, HashRequest(message))
		if err != nil {
			return e.failClosed(userID, signal, err)
		}
		decision.AckToken = token
		decision.WarningText = "It sounds like you're going through something heavy. I want to make sure you're okay before we continue."
		if err := e.saveState(ctx, userID, StateWarned); err != nil {
			return e.failClosed(userID, signal, err)
		}

	case signal == SignalMedium:
		decision.State = StateWarned
		if e.config.WarnAndContinue {
			decision.Action = ActionWarn
			decision.WarningText = "That sounds difficult. I'm here to help, and support is available if you need it."
		} else {
			decision.Action = ActionAwaitAck
			token, err := e.tokens.Issue(ctx, userID, HashRequest(message))
			if err != nil {
				return e.failClosed(userID, signal, err)
			}
			decision.AckToken = token
			decision.WarningText = "That sounds difficult. Let me know you'd like to continue and we will."
		}
		if err := e.saveState(ctx, userID, StateWarned); err != nil {
			return e.failClosed(userID, signal, err)
		}

	case signal == SignalLow:
		decision.Action = ActionWarn
		decision.WarningText = "Sounds like a lot is going on. Take it one step at a time."

	default:
		decision.Action = ActionProceed
	}

	e.logger.Info("Shield evaluated", map[string]interface{}{
		"user_id": userID,
		"signal":  string(signal),
		"state":   string(decision.State),
		"action":  string(decision.Action),
	})
	return decision
}

// Acknowledge consumes an ack token and clears the warned state so the
// halted request may proceed.
func (e *Engine) Acknowledge(ctx context.Context, tokenID, userID, message string) error {
	if err := e.tokens.Consume(ctx, tokenID, userID, HashRequest(message)); err != nil {
		return err
	}
	return e.saveState(ctx, userID, StateClear)
}

// ClearCrisis ends a crisis session, typically via an operator or an
// explicit user flow, never implicitly.
func (e *Engine) ClearCrisis(ctx context.Context, userID string) error {
	if _, err := e.store.Delete(ctx, stateKey(userID)); err != nil {
		return &core.PipelineError{
			Op: "shield.clear_crisis", Code: "INTERNAL_ERROR",
			Message: "failed to clear crisis state", Err: err,
		}
	}
	e.logger.Info("Crisis session cleared", map[string]interface{}{"user_id": userID})
	return nil
}

// failClosed is the store-failure path: the decision degrades to crisis
// handling so the user always gets resources rather than an unguarded
// response.
func (e *Engine) failClosed(userID string, signal Signal, err error) Decision {
	e.logger.Error("Shield store failure, failing closed", map[string]interface{}{
		"user_id": userID,
		"error":   err.Error(),
	})
	return Decision{
		Signal:       signal,
		State:        StateCrisis,
		Action:       ActionCrisis,
		ResourceHash: CrisisBlockHash(),
	}
}

func (e *Engine) loadState(ctx context.Context, userID string) (State, error) {
	raw, err := e.store.Get(ctx, stateKey(userID))
	if err != nil {
		return StateClear, err
	}
	if raw == "" {
		return StateClear, nil
	}
	var p persistedState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// unreadable state is treated as crisis, not clear
		return StateCrisis, nil
	}
	return p.State, nil
}

func (e *Engine) saveState(ctx context.Context, userID string, state State) error {
	payload, _ := json.Marshal(persistedState{State: state, UpdatedAt: e.now()})
	return e.store.Set(ctx, stateKey(userID), string(payload), crisisSessionTTL)
}

// enterCrisis marks the crisis session. SetNX keeps the first entry's
// timestamp when concurrent requests race.
func (e *Engine) enterCrisis(ctx context.Context, userID string) error {
	payload, _ := json.Marshal(persistedState{State: StateCrisis, UpdatedAt: e.now()})
	created, err := e.store.SetNX(ctx, stateKey(userID), string(payload), crisisSessionTTL)
	if err != nil {
		return err
	}
	if !created {
		// already in some state; overwrite only if not already crisis
		current, err := e.loadState(ctx, userID)
		if err != nil {
			return err
		}
		if current != StateCrisis {
			return e.store.Set(ctx, stateKey(userID), string(payload), crisisSessionTTL)
		}
	}
	return nil
}

func stateKey(userID string) string {
	return core.NamespaceShield + ":state:" + userID
}
