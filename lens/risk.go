package lens

// Stake levels ordered low to critical
const (
	StakeLow      = "low"
	StakeMedium   = "medium"
	StakeHigh     = "high"
	StakeCritical = "critical"
)

// AssessRisk scores a classified message. Any query needing live data is
// forced to high scrutiny regardless of its base score: a hallucinated
// figure presented as current fact is worse than no answer.
func AssessRisk(classification *DataNeedClassification) RiskAssessment {
	assessment := RiskAssessment{StakeLevel: StakeLow, Score: 0.1}

	if classification == nil || classification.TruthMode == TruthLocal {
		return assessment
	}

	assessment.ForceHigh = true
	assessment.StakeLevel = StakeHigh
	assessment.Score = 0.7

	if classification.RequiresNumericPrecision {
		assessment.Score = 0.85
	}
	if !classification.AllowsActionRecommendations {
		// someone asking whether to buy or sell is acting on the answer
		assessment.StakeLevel = StakeCritical
		assessment.Score = 0.95
	}
	return assessment
}
