// Package sword handles goal-directed intent: detecting when a message
// should redirect into a structured goal flow, and gating proactive
// spark prompts.
package sword

import (
	"regexp"
	"strings"

	"github.com/wardline/wardline/core"
)

// Target is the goal flow a redirect points at
type Target string

const (
	TargetRunner   Target = "runner"   // continue an active goal plan
	TargetDesigner Target = "designer" // design a new goal plan
)

// Redirect is the detector's verdict for one message
type Redirect struct {
	ShouldRedirect bool
	Target         Target
	Goal           string // the extracted goal statement, when present
	// BypassExplore skips the open-ended exploration step because the
	// user already stated a concrete goal with scope or deadline.
	BypassExplore bool
	Reason        string
}

// runnerContinuationRe matches explicit requests to resume an active plan
var runnerContinuationRe = regexp.MustCompile(`(?i)\b(continue|resume|back to|next step (of|in|on)|where (was i|did i leave off)|keep going (with|on))\b.*\b(plan|goal|course|curriculum|program|training)\b|\b(what'?s|whats) (my )?next (step|lesson|task)\b`)

// designerContinuationRe matches requests to keep refining a plan under design
var designerContinuationRe = regexp.MustCompile(`(?i)\b(finish|keep) (designing|planning)\b|\b(adjust|change|revise|tweak)\b.*\b(the )?(plan|curriculum|schedule)\b`)

// concreteGoalRes are goal statements specific enough to skip exploration
var concreteGoalRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(learn|master|study)\b\s+(.+?)\s+\b(to|so i can|in order to)\b\s+(.+)`),
	regexp.MustCompile(`(?i)\b(in|within)\s+\d+\s+(days?|weeks?|months?)\b`),
	regexp.MustCompile(`(?i)\bpass (the )?[\w\s-]+\b(exam|test|certification|interview)\b`),
	regexp.MustCompile(`(?i)\bby\s+(january|february|march|april|may|june|july|august|september|october|november|december|next\s+\w+)\b`),
}

// openGoalRes are goal intents that still need exploration
var openGoalRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi (want|would like|'?d like) to (learn|get better at|improve|start)\b`),
	regexp.MustCompile(`(?i)\bteach me\b`),
	regexp.MustCompile(`(?i)\bhelp me (learn|study|prepare|get better)\b`),
	regexp.MustCompile(`(?i)\bi'?m trying to (learn|build|become)\b`),
}

// Detector decides whether a message belongs in a goal flow. Detection
// is a fixed priority ladder, so the same message always routes the
// same way: runner continuation, then designer continuation, then
// concrete goal statements, then open goal intents.
type Detector struct {
	logger core.Logger
}

// NewDetector creates a detector
func NewDetector(logger core.Logger) *Detector {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Detector{logger: logger}
}

// Detect classifies one message. hasActivePlan and hasDraftPlan describe
// the user's current goal state; continuations only fire when there is
// something to continue.
func (d *Detector) Detect(message string, hasActivePlan, hasDraftPlan bool) Redirect {
	if hasActivePlan && runnerContinuationRe.MatchString(message) {
		return d.log(Redirect{
			ShouldRedirect: true,
			Target:         TargetRunner,
			Reason:         "continuation of active plan",
		})
	}

	if hasDraftPlan && designerContinuationRe.MatchString(message) {
		return d.log(Redirect{
			ShouldRedirect: true,
			Target:         TargetDesigner,
			Reason:         "continuation of plan under design",
		})
	}

	for _, re := range concreteGoalRes {
		if re.MatchString(message) && statesGoalIntent(message) {
			return d.log(Redirect{
				ShouldRedirect: true,
				Target:         TargetDesigner,
				Goal:           strings.TrimSpace(message),
				BypassExplore:  true,
				Reason:         "concrete goal statement",
			})
		}
	}

	for _, re := range openGoalRes {
		if re.MatchString(message) {
			return d.log(Redirect{
				ShouldRedirect: true,
				Target:         TargetDesigner,
				Goal:           strings.TrimSpace(message),
				Reason:         "open goal intent",
			})
		}
	}

	return Redirect{}
}

// statesGoalIntent filters concrete-pattern matches down to messages
// that actually express a goal, not just a date or duration.
func statesGoalIntent(message string) bool {
	intent := regexp.MustCompile(`(?i)\b(learn|master|study|pass|prepare|train|practice|build|improve|become|get better)\b`)
	return intent.MatchString(message)
}

func (d *Detector) log(r Redirect) Redirect {
	d.logger.Debug("Goal redirect detected", map[string]interface{}{
		"target": string(r.Target),
		"bypass": r.BypassExplore,
		"reason": r.Reason,
	})
	return r
}
