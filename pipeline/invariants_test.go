package pipeline

import (
	"testing"

	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/shield"
)

func hasViolation(violations []Violation, name string) bool {
	for _, v := range violations {
		if v.Name == name {
			return true
		}
	}
	return false
}

func baseState() *State {
	return &State{Request: request("hello"), Stance: StanceControl}
}

func TestInvariantCrisisBlockMustLead(t *testing.T) {
	state := baseState()
	state.ShieldDecision = &shield.Decision{Action: shield.ActionCrisis}

	v := CheckInvariants(state, "Here's my advice without any resources.")
	if !hasViolation(v, "crisis_block_leads") {
		t.Errorf("Expected crisis_block_leads violation, got %v", v)
	}

	v = CheckInvariants(state, shield.RenderWithCrisisBlock("I'm here with you."))
	if hasViolation(v, "crisis_block_leads") {
		t.Errorf("Expected no violation for a proper crisis response, got %v", v)
	}
}

func TestInvariantNoGenerationWithoutAck(t *testing.T) {
	state := baseState()
	state.ShieldDecision = &shield.Decision{Action: shield.ActionAwaitAck}

	if v := CheckInvariants(state, "generated anyway"); !hasViolation(v, "no_generation_without_ack") {
		t.Errorf("Expected violation, got %v", v)
	}
	if v := CheckInvariants(state, ""); hasViolation(v, "no_generation_without_ack") {
		t.Errorf("Expected no violation for empty response, got %v", v)
	}
}

func TestInvariantSparkOnlySword(t *testing.T) {
	state := baseState()
	state.SparkShown = true
	state.Stance = StanceLens

	if v := CheckInvariants(state, "answer"); !hasViolation(v, "spark_only_sword") {
		t.Errorf("Expected violation for spark under lens stance, got %v", v)
	}

	state.Stance = StanceSword
	state.ShieldDecision = &shield.Decision{Action: shield.ActionWarn}
	if v := CheckInvariants(state, "answer"); !hasViolation(v, "spark_only_sword") {
		t.Errorf("Expected violation for spark with shield intervention, got %v", v)
	}
}

func TestInvariantDegradedVerificationCapsConfidence(t *testing.T) {
	state := baseState()
	state.VerificationRequired = true
	state.Confidence = ConfidenceHigh

	v := CheckInvariants(state, "answer")
	if !hasViolation(v, "degraded_confidence_low") {
		t.Errorf("Expected a confidence violation for a degraded verification, got %v", v)
	}
	if len(CriticalViolations(v)) != 0 {
		t.Errorf("Expected advisory violations only, got %v", CriticalViolations(v))
	}

	state.Confidence = ConfidenceLow
	if v := CheckInvariants(state, "answer"); hasViolation(v, "degraded_confidence_low") {
		t.Errorf("Expected low confidence to pass, got %v", v)
	}
}

func TestInvariantHighConfidenceNeedsVerification(t *testing.T) {
	state := baseState()
	state.Confidence = ConfidenceHigh

	if v := CheckInvariants(state, "answer"); !hasViolation(v, "high_confidence_verified") {
		t.Errorf("Expected violation for unverified high confidence, got %v", v)
	}

	state.VerificationComplete = true
	if v := CheckInvariants(state, "answer"); hasViolation(v, "high_confidence_verified") {
		t.Errorf("Expected verified high confidence to pass, got %v", v)
	}
}

func TestInvariantRegenerationCap(t *testing.T) {
	state := baseState()
	state.Regenerations = MaxRegenerations + 1

	if v := CheckInvariants(state, "answer"); !hasViolation(v, "regeneration_cap") {
		t.Errorf("Expected violation, got %v", v)
	}
}

func TestInvariantCriticalActionSources(t *testing.T) {
	state := baseState()
	state.StakeLevel = "critical"

	response := "Based on the numbers, you should sell immediately."
	if v := CheckInvariants(state, response); !hasViolation(v, "critical_action_sources") {
		t.Errorf("Expected violation without sources, got %v", v)
	}

	state.ActionSources = []string{"verified:quote:AAPL"}
	if v := CheckInvariants(state, response); hasViolation(v, "critical_action_sources") {
		t.Errorf("Expected no violation with sources, got %v", v)
	}
}

func TestInvariantNoInventedFigures(t *testing.T) {
	state := baseState()
	state.LensResult = &lens.Result{
		Mode:                lens.ModeDegraded,
		ResponseConstraints: lens.ResponseConstraints{Level: lens.ConstraintForbidNumericClaims},
	}

	for _, response := range []string{
		"Bitcoin is around $43,251.70 today.",
		"The rate moved 2.15% overnight.",
		"It's trading near $187.43.",
	} {
		if v := CheckInvariants(state, response); !hasViolation(v, "no_invented_figures") {
			t.Errorf("Expected violation for %q, got %v", response, v)
		}
	}

	if v := CheckInvariants(state, "Prices have been volatile lately; check a live source."); hasViolation(v, "no_invented_figures") {
		t.Error("Expected qualitative language to pass")
	}
}

func TestInvariantFiguresFromEvidence(t *testing.T) {
	pack := lens.BuildEvidencePack([]lens.ProviderResult{
		{Category: lens.CategoryStock, OK: true, Data: lens.StockData{Symbol: "AAPL", Price: 187.43, Currency: "USD"}},
	}, lens.ResponseConstraints{Level: lens.ConstraintQuoteEvidenceOnly})

	state := baseState()
	state.LensResult = &lens.Result{
		Mode:                lens.ModeLiveFetch,
		Evidence:            pack,
		ResponseConstraints: lens.ResponseConstraints{Level: lens.ConstraintQuoteEvidenceOnly},
	}

	if v := CheckInvariants(state, "AAPL is at $187.43 right now."); hasViolation(v, "figures_from_evidence") {
		t.Errorf("Expected evidence-backed figure to pass, got %v", v)
	}
	if v := CheckInvariants(state, "AAPL is at $190.10 right now."); !hasViolation(v, "figures_from_evidence") {
		t.Errorf("Expected violation for off-evidence figure, got %v", v)
	}
}

func TestInvariantBlockedYieldsNoContent(t *testing.T) {
	state := baseState()
	state.LensResult = &lens.Result{Mode: lens.ModeBlocked}

	if v := CheckInvariants(state, "here is content"); !hasViolation(v, "blocked_yields_no_content") {
		t.Errorf("Expected violation, got %v", v)
	}
}

func TestCriticalViolationsSeparatedFromAdvisory(t *testing.T) {
	state := baseState()
	state.SparkShown = true
	state.Stance = StanceLens
	state.LensResult = &lens.Result{Mode: lens.ModeBlocked}

	v := CheckInvariants(state, "leaked content")
	if !hasViolation(v, "spark_only_sword") || !hasViolation(v, "blocked_yields_no_content") {
		t.Fatalf("Expected both violations, got %v", v)
	}

	critical := CriticalViolations(v)
	if len(critical) != 1 || critical[0].Name != "blocked_yields_no_content" {
		t.Errorf("Expected only the content leak to be critical, got %v", critical)
	}
}
