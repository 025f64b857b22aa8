package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardline/wardline/ai"
	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/shield"
	"github.com/wardline/wardline/sword"
)

// MaxRegenerations caps how many times a rejected draft is retried
const MaxRegenerations = 2

// DefaultOverallTimeout bounds one full pipeline run
const DefaultOverallTimeout = 30 * time.Second

// Executor runs the canonical gate order for each request:
//
//	intent -> shield -> lens -> stance -> capability -> sword redirect
//	-> generation/personality loop -> spark -> invariants -> safety render
//
// Shield, lens and redirect outcomes short-circuit the rest; everything
// that ran is recorded in the gate trail regardless.
type Executor struct {
	Shield    *shield.Engine
	Lens      *lens.Orchestrator
	Detector  *sword.Detector
	Spark     *sword.SparkGate
	Registry  *ai.Registry
	Audit     *audit.Logger
	Validator PersonalityValidator

	Timeout time.Duration
	Logger  core.Logger
}

// NewExecutor fills defaults on a partially configured executor
func NewExecutor(e Executor) *Executor {
	if e.Validator == nil {
		e.Validator = DefaultPersonalityValidator
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultOverallTimeout
	}
	if e.Logger == nil {
		e.Logger = &core.NoOpLogger{}
	}
	return &e
}

// Execute runs one request through the pipeline. It always returns a
// usable result: panics and internal errors surface as error-kind
// results, never as a crash or a half-rendered response.
func (e *Executor) Execute(ctx context.Context, req *Request) (result *Result) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	state := &State{Request: req, Stance: StanceControl, StartedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("Pipeline panic", map[string]interface{}{
				"request_id": req.RequestID,
				"panic":      fmt.Sprintf("%v", r),
			})
			result = &Result{Kind: KindError, ErrorCode: "INTERNAL_ERROR", Records: state.Records}
		}
		if result != nil {
			result.RequestID = req.RequestID
			result.Stance = string(state.Stance)
			result.Regenerations = state.Regenerations
			result.TotalTimeMs = time.Since(state.StartedAt).Milliseconds()
		}
		e.recordAudit(context.WithoutCancel(ctx), state, result)
	}()

	// intent
	e.runGate(ctx, state, &IntentGate{})

	// shield
	start := time.Now()
	decision := e.Shield.Evaluate(ctx, req.UserID, req.Message)
	state.ShieldDecision = &decision

	switch decision.Action {
	case shield.ActionCrisis:
		state.Record("shield", StatusCrisis, string(decision.Signal), time.Since(start))
		state.Stance = StanceShield
		return e.renderCrisis(ctx, state)

	case shield.ActionAwaitAck:
		// a valid ack token on the request resumes it instead of halting
		if req.AckToken != "" {
			if err := e.Shield.Acknowledge(ctx, req.AckToken, req.UserID, req.Message); err == nil {
				// acknowledged: the request is no longer halted, but the
				// supportive tone carries through
				decision.Action = shield.ActionWarn
				state.Record("shield", StatusPass, "acknowledged", time.Since(start))
				break
			}
		}
		state.Record("shield", StatusAwaitAck, string(decision.Signal), time.Since(start))
		return &Result{
			Kind:     KindAwaitAck,
			Warning:  decision.WarningText,
			AckToken: decision.AckToken.Token,
			Records:  state.Records,
		}

	case shield.ActionWarn:
		state.Record("shield", StatusWarn, string(decision.Signal), time.Since(start))

	default:
		state.Record("shield", StatusPass, "", time.Since(start))
	}

	// lens
	start = time.Now()
	lensResult := e.Lens.Process(ctx, req.Message)
	state.LensResult = lensResult
	if lensResult.ForceHigh && state.StakeLevel == "" {
		state.StakeLevel = lens.StakeHigh
	}
	if !lensResult.ActionRecommendationsAllowed && lensResult.Mode != lens.ModePassthrough {
		state.StakeLevel = lens.StakeCritical
	}

	if lensResult.Mode == lens.ModeBlocked {
		if req.ProceedDegraded && hasUserOption(lensResult.UserOptions, lens.OptionProceedDegraded) {
			// the caller took the degraded path a prior blocked result
			// offered; numeric claims stay forbidden
			lensResult.Mode = lens.ModeDegraded
			lensResult.DegradationReason = "proceeding without live data at the user's request"
			lensResult.ResponseConstraints = lens.ResponseConstraints{Level: lens.ConstraintForbidNumericClaims}
			lensResult.NumericPrecisionAllowed = false
			lensResult.Evidence = lens.BuildEvidencePack(nil, lensResult.ResponseConstraints)
			state.Record("lens", StatusWarn, lens.OptionProceedDegraded, time.Since(start))
		} else {
			state.Record("lens", StatusHalt, string(lensResult.ResponseConstraints.Level), time.Since(start))
			return &Result{
				Kind:        KindStopped,
				Response:    lensResult.RefusalMessage,
				UserOptions: lensResult.UserOptions,
				Records:     state.Records,
			}
		}
	} else {
		state.Record("lens", StatusPass, string(lensResult.Mode), time.Since(start))
	}

	// stance
	switch {
	case state.ShieldIntervened():
		state.Stance = StanceShield
	case lensResult.Mode == lens.ModeLiveFetch || lensResult.Mode == lens.ModeDegraded:
		state.Stance = StanceLens
		state.VerificationRequired = true
		state.VerificationComplete = lensResult.Mode == lens.ModeLiveFetch
	default:
		state.Stance = StanceControl
		state.VerificationComplete = true
	}

	// capability
	e.runGate(ctx, state, &CapabilityGate{Registry: e.Registry})
	if last := state.Records[len(state.Records)-1]; last.Status == StatusFail {
		return &Result{Kind: KindError, ErrorCode: "CONFIGURATION_ERROR", Records: state.Records}
	}

	// sword redirect, only for plain conversational turns
	if state.Stance == StanceControl && state.Route == RouteSay {
		start = time.Now()
		redirect := e.Detector.Detect(req.Message, req.HasActivePlan, req.HasDraftPlan)
		if redirect.ShouldRedirect {
			state.SwordRedirect = &redirect
			state.Stance = StanceSword
			state.Record("sword", StatusRedirect, redirect.Reason, time.Since(start))
			return &Result{
				Kind:           KindRedirect,
				RedirectTarget: string(redirect.Target),
				RedirectTopic:  redirect.Goal,
				Records:        state.Records,
			}
		}
		// an active plan keeps the turn goal-directed even without a
		// redirect, which is what makes sparks eligible
		if req.HasActivePlan {
			state.Stance = StanceSword
		}
		state.Record("sword", StatusPass, "", time.Since(start))
	}

	// generation with personality review
	response, err := e.generate(ctx, state)
	if err != nil {
		return &Result{Kind: KindError, ErrorCode: core.ErrorCode(err), Records: state.Records}
	}

	// spark
	e.maybeSpark(ctx, state)

	// confidence follows the verification outcome
	switch {
	case state.VerificationRequired && !state.VerificationComplete:
		state.Confidence = ConfidenceLow
	case state.VerificationRequired:
		state.Confidence = ConfidenceHigh
	default:
		state.Confidence = ConfidenceMedium
	}

	// invariants: critical violations withhold the drafted text entirely;
	// non-critical ones degrade the response and are logged
	start = time.Now()
	violations := CheckInvariants(state, response)
	if critical := CriticalViolations(violations); len(critical) > 0 {
		state.Record("invariants", StatusFail, critical[0].String(), time.Since(start))
		e.Logger.Error("Critical invariant violations, response withheld", map[string]interface{}{
			"request_id": req.RequestID,
			"count":      len(critical),
			"first":      critical[0].String(),
		})
		return &Result{
			Kind:     KindStopped,
			Response: "I couldn't verify that response, so I'm not sending it. Please try again.",
			Records:  state.Records,
		}
	}
	if len(violations) > 0 {
		state.Record("invariants", StatusWarn, violations[0].String(), time.Since(start))
		e.Logger.Warn("Invariant violations, serving degraded", map[string]interface{}{
			"request_id": req.RequestID,
			"count":      len(violations),
			"first":      violations[0].String(),
		})
		for _, v := range violations {
			if v.Name == "spark_only_sword" {
				state.SparkShown = false
				state.SparkText = ""
			}
		}
		if state.DegradationReason == "" {
			state.DegradationReason = violations[0].Name
		}
	} else {
		state.Record("invariants", StatusPass, "", time.Since(start))
	}

	// safety render: warnings and freshness notes precede the content
	final := e.render(state, response)

	if state.LensResult != nil && state.LensResult.Mode == lens.ModeDegraded && state.DegradationReason == "" {
		state.DegradationReason = state.LensResult.DegradationReason
	}
	kind := KindSuccess
	if state.DegradationReason != "" {
		kind = KindDegraded
	}
	return &Result{
		Kind:              kind,
		Response:          final,
		Warning:           warningText(state),
		SparkText:         state.SparkText,
		DegradationReason: state.DegradationReason,
		Records:           state.Records,
	}
}

func hasUserOption(options []string, want string) bool {
	for _, opt := range options {
		if opt == want {
			return true
		}
	}
	return false
}

func (e *Executor) runGate(ctx context.Context, state *State, gate Gate) {
	start := time.Now()
	status, err := gate.Run(ctx, state)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	state.Record(gate.Name(), status, detail, time.Since(start))
}

// generate produces a draft and reviews it, regenerating up to the cap
func (e *Executor) generate(ctx context.Context, state *State) (string, error) {
	start := time.Now()
	gen, err := e.Registry.Get("")
	if err != nil {
		state.Record("generation", StatusFail, err.Error(), time.Since(start))
		return "", err
	}

	req := e.buildRequest(state)
	for {
		resp, err := gen.Generate(ctx, req)
		if err != nil {
			state.Record("generation", StatusFail, err.Error(), time.Since(start))
			return "", &core.PipelineError{
				Op: "pipeline.generate", Code: "PROVIDER_ERROR",
				Message: "generation failed", Err: err,
			}
		}
		state.Draft = resp.Text

		if verr := e.Validator(state, resp.Text); verr != nil {
			if state.Regenerations >= MaxRegenerations {
				// keep the last draft and flag the run degraded instead of
				// failing the whole request
				state.DegradationReason = "personality review rejected the final draft"
				state.Record("generation", StatusWarn,
					fmt.Sprintf("kept rejected draft after %d regenerations: %v", state.Regenerations, verr),
					time.Since(start))
				return resp.Text, nil
			}
			state.Regenerations++
			e.Logger.Warn("Draft rejected, regenerating", map[string]interface{}{
				"request_id":    state.Request.RequestID,
				"regenerations": state.Regenerations,
				"reason":        verr.Error(),
			})
			continue
		}

		state.Record("generation", StatusPass, fmt.Sprintf("regenerations=%d", state.Regenerations), time.Since(start))
		return resp.Text, nil
	}
}

// buildRequest assembles the generation request from the state: lens
// prompt additions and shield tone guidance fold into the system prompt.
func (e *Executor) buildRequest(state *State) *ai.Request {
	var system []string
	if state.LensResult != nil && state.LensResult.Evidence != nil {
		system = append(system, state.LensResult.Evidence.SystemPromptAdditions...)
		if state.LensResult.Evidence.FormattedContext != "" {
			system = append(system, state.LensResult.Evidence.FormattedContext)
		}
	}
	if state.ShieldDecision != nil && state.ShieldDecision.Action == shield.ActionWarn {
		system = append(system, "The user may be under stress. Keep a supportive, grounded tone.")
	}

	history := make([]ai.Message, 0, len(state.Request.History))
	for _, turn := range state.Request.History {
		history = append(history, ai.Message{Role: turn.Role, Content: turn.Content})
	}
	return &ai.Request{
		SystemPrompt: strings.Join(system, "\n\n"),
		UserPrompt:   state.Request.Message,
		History:      history,
	}
}

// renderCrisis generates a short supportive message behind the crisis
// block. Generation failure here is not fatal: resources render alone.
func (e *Executor) renderCrisis(ctx context.Context, state *State) *Result {
	supportive := ""
	if gen, err := e.Registry.Get(""); err == nil {
		resp, err := gen.Generate(ctx, &ai.Request{
			SystemPrompt: "The user is in crisis. Respond with two or three short sentences of warm, non-judgmental support. Do not give advice, resources, or instructions; the resource list is rendered separately.",
			UserPrompt:   state.Request.Message,
		})
		if err == nil && resp != nil {
			supportive = resp.Text
		}
	}

	final := shield.RenderWithCrisisBlock(supportive)
	if violations := CheckInvariants(state, final); len(violations) > 0 {
		// resources alone always verify
		final = shield.CrisisBlock
	}
	return &Result{Kind: KindStopped, Response: final, Records: state.Records}
}

// maybeSpark consults the gate and attaches a nudge when it opens
func (e *Executor) maybeSpark(ctx context.Context, state *State) {
	if e.Spark == nil {
		return
	}
	start := time.Now()
	gate := e.Spark.Check(ctx, sword.GateInput{
		UserID:               state.Request.UserID,
		Stance:               string(state.Stance),
		ShieldIntervened:     state.ShieldIntervened(),
		StakeLevel:           state.StakeLevel,
		VerificationComplete: state.VerificationComplete,
	})
	if !gate.Open {
		state.Record("spark", StatusPass, string(gate.Reason), time.Since(start))
		return
	}
	state.SparkShown = true
	state.SparkText = "Want to pick up where you left off on your goal?"
	if err := e.Spark.RecordShown(ctx, state.Request.UserID); err != nil {
		// counting failed, withhold the spark rather than risk the cap
		state.SparkShown = false
		state.SparkText = ""
		state.Record("spark", StatusFail, err.Error(), time.Since(start))
		return
	}
	state.Record("spark", StatusPass, "shown", time.Since(start))
}

// render prepends warnings to the finished content
func (e *Executor) render(state *State, response string) string {
	var parts []string
	if w := warningText(state); w != "" {
		parts = append(parts, w)
	}
	parts = append(parts, response)
	return strings.Join(parts, "\n\n")
}

func warningText(state *State) string {
	var parts []string
	if state.ShieldDecision != nil && state.ShieldDecision.Action == shield.ActionWarn {
		parts = append(parts, state.ShieldDecision.WarningText)
	}
	if state.LensResult != nil && state.LensResult.FreshnessWarning != "" {
		parts = append(parts, state.LensResult.FreshnessWarning)
	}
	return strings.Join(parts, " ")
}

// recordAudit writes the gate trail to the audit log after every run
func (e *Executor) recordAudit(ctx context.Context, state *State, result *Result) {
	if e.Audit == nil || result == nil {
		return
	}
	details := map[string]interface{}{
		"kind":     string(result.Kind),
		"route":    string(state.Route),
		"stance":   string(state.Stance),
		"gates":    len(state.Records),
		"duration": time.Since(state.StartedAt).Milliseconds(),
	}
	category := audit.CategoryPipeline
	if state.ShieldIntervened() {
		category = audit.CategorySafety
		if state.ShieldDecision.ResourceHash != "" {
			details["resource_hash"] = state.ShieldDecision.ResourceHash
		}
	}
	if _, err := e.Audit.Record(ctx, audit.Event{
		Category: category,
		UserID:   state.Request.UserID,
		Action:   "pipeline_complete",
		Details:  details,
	}); err != nil {
		e.Logger.Warn("Audit record failed", map[string]interface{}{"error": err.Error()})
	}
}
