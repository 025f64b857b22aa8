package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/shield"
)

// Violation is one failed final check. Critical violations withhold the
// response entirely; non-critical ones degrade it and are logged.
type Violation struct {
	Name     string
	Detail   string
	Critical bool
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Name, v.Detail)
}

// CriticalViolations filters to the violations that must stop the response
func CriticalViolations(violations []Violation) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Critical {
			out = append(out, v)
		}
	}
	return out
}

// Financial figure shapes that must never appear when numeric claims are
// forbidden: currency amounts, percentages with cents precision, and
// comma-grouped figures.
var financialFigureRes = []*regexp.Regexp{
	regexp.MustCompile(`\$\d+\.\d{2}`),
	regexp.MustCompile(`\d+\.\d{2}%`),
	regexp.MustCompile(`\d{1,3}(,\d{3})+\.\d{2}`),
}

// decimalTokenRe finds precise numeric claims for allow-list checking.
// Plain small integers are not treated as claims; decimals and grouped
// figures are.
var decimalTokenRe = regexp.MustCompile(`-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+\.\d+`)

// actionLanguageRe detects explicit action recommendations
var actionLanguageRe = regexp.MustCompile(`(?i)\byou should (buy|sell|invest|take|stop|start|switch)\b|\bi recommend (buying|selling|investing|taking)\b`)

// CheckInvariants runs every final safety check against the finished
// response. It returns all violations, not just the first, so the audit
// trail shows the full picture.
func CheckInvariants(state *State, response string) []Violation {
	var violations []Violation
	add := func(name, detail string, critical bool) {
		violations = append(violations, Violation{Name: name, Detail: detail, Critical: critical})
	}

	// 1. crisis responses lead with intact resources
	if state.ShieldDecision != nil && state.ShieldDecision.Action == shield.ActionCrisis {
		if !shield.VerifyCrisisBlock(response) {
			add("crisis_block_leads", "crisis response does not begin with intact resources", true)
		}
	}

	// 2. a halted request carries no generated content
	if state.ShieldDecision != nil && state.ShieldDecision.Action == shield.ActionAwaitAck {
		if response != "" {
			add("no_generation_without_ack", "content was generated for a halted request", true)
		}
	}

	// 3. sparks only appear on sword-stance responses with no shield involvement
	if state.SparkShown {
		if state.Stance != StanceSword {
			add("spark_only_sword", fmt.Sprintf("spark shown under %s stance", state.Stance), false)
		}
		if state.ShieldIntervened() {
			add("spark_only_sword", "spark shown alongside a shield intervention", false)
		}
	}

	// 4. degraded verification caps confidence at low
	if state.VerificationRequired && !state.VerificationComplete &&
		state.Confidence != "" && state.Confidence != ConfidenceLow {
		add("degraded_confidence_low", fmt.Sprintf("%s confidence without completed verification", state.Confidence), false)
	}

	// 5. regeneration cap
	if state.Regenerations > MaxRegenerations {
		add("regeneration_cap", fmt.Sprintf("%d regenerations exceeds cap of %d", state.Regenerations, MaxRegenerations), false)
	}

	// 6. critical-stake action advice names its sources
	if state.StakeLevel == "critical" && actionLanguageRe.MatchString(response) && len(state.ActionSources) == 0 {
		add("critical_action_sources", "action recommendation at critical stakes without verified sources", true)
	}

	// 7. high confidence requires completed verification
	if state.Confidence == ConfidenceHigh && !state.VerificationComplete {
		add("high_confidence_verified", "high confidence without completed verification", false)
	}

	if state.LensResult != nil {
		level := state.LensResult.ResponseConstraints.Level

		// 8. no financial figures after a failed live fetch
		if level == lens.ConstraintForbidNumericClaims || level == lens.ConstraintQualitativeOnly {
			for _, re := range financialFigureRes {
				if match := re.FindString(response); match != "" {
					add("no_invented_figures", fmt.Sprintf("figure %q under %s constraints", match, level), true)
					break
				}
			}
		}

		// 9. quoted figures come from the evidence allow-list
		if level == lens.ConstraintQuoteEvidenceOnly && state.LensResult.Evidence != nil {
			for _, token := range decimalTokenRe.FindAllString(response, -1) {
				if !state.LensResult.Evidence.HasToken(strings.TrimPrefix(token, "-")) && !state.LensResult.Evidence.HasToken(token) {
					add("figures_from_evidence", fmt.Sprintf("figure %q is not in the evidence pack", token), true)
				}
			}
		}

		// 10. blocked lens results produce no generated content
		if state.LensResult.Mode == lens.ModeBlocked && response != "" {
			add("blocked_yields_no_content", "content was generated for a blocked request", true)
		}
	}

	return violations
}
