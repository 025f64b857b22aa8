// Package pipeline wires the gates into the canonical execution order
// and owns the per-request state they share.
package pipeline

import (
	"time"

	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/shield"
	"github.com/wardline/wardline/sword"
)

// Route is the coarse intent of a message
type Route string

const (
	RouteSay  Route = "SAY"  // conversational response
	RouteMake Route = "MAKE" // produce an artifact
	RouteFix  Route = "FIX"  // correct or revise prior output
	RouteDo   Route = "DO"   // perform an action
)

// Stance is the posture the response is generated under
type Stance string

const (
	StanceLens    Stance = "lens"    // factual, evidence-bound
	StanceSword   Stance = "sword"   // goal-directed
	StanceShield  Stance = "shield"  // safety-first
	StanceControl Stance = "control" // neutral default
)

// Confidence grades for a finished response
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// GateStatus is the outcome class of one gate execution
type GateStatus string

const (
	StatusPass     GateStatus = "pass"
	StatusWarn     GateStatus = "warn"
	StatusHalt     GateStatus = "halt"
	StatusAwaitAck GateStatus = "await_ack"
	StatusCrisis   GateStatus = "crisis"
	StatusRedirect GateStatus = "redirect"
	StatusFail     GateStatus = "fail"
)

// GateRecord is the audit trail entry for one gate execution
type GateRecord struct {
	Gate            string     `json:"gate"`
	Status          GateStatus `json:"status"`
	Detail          string     `json:"detail,omitempty"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
}

// Request is one inbound message
type Request struct {
	RequestID string
	UserID    string
	Message   string
	History   []HistoryTurn
	// AckToken, when set, resumes a previously halted request
	AckToken string
	// HasActivePlan / HasDraftPlan describe the user's goal state
	HasActivePlan bool
	HasDraftPlan  bool
	// ProceedDegraded is the caller's explicit choice, after a blocked
	// result offered it, to accept a degraded answer without live data
	ProceedDegraded bool
}

// HistoryTurn is one prior turn of the conversation
type HistoryTurn struct {
	Role    string
	Content string
}

// State is the mutable per-request context threaded through the gates
type State struct {
	Request *Request

	Route  Route
	Stance Stance

	ShieldDecision *shield.Decision
	LensResult     *lens.Result
	SwordRedirect  *sword.Redirect

	// Draft is the current candidate response text
	Draft string
	// Regenerations counts personality-check rejections so far
	Regenerations int
	// DegradationReason marks the response degraded when non-empty
	DegradationReason string

	SparkShown bool
	SparkText  string

	StakeLevel string
	// VerificationRequired is set when the message needed live data;
	// VerificationComplete when every needed fetch was verified
	VerificationRequired bool
	VerificationComplete bool
	// Confidence grades how strongly the response may assert its claims
	Confidence string
	// ActionSources names the verified sources behind any explicit
	// action recommendation; required when stakes are critical
	ActionSources []string

	Records   []GateRecord
	StartedAt time.Time
}

// Record appends a gate execution record
func (s *State) Record(gate string, status GateStatus, detail string, elapsed time.Duration) {
	s.Records = append(s.Records, GateRecord{
		Gate:            gate,
		Status:          status,
		Detail:          detail,
		ExecutionTimeMs: elapsed.Milliseconds(),
	})
}

// ShieldIntervened reports whether the shield did anything beyond proceed
func (s *State) ShieldIntervened() bool {
	return s.ShieldDecision != nil && s.ShieldDecision.Action != shield.ActionProceed
}
