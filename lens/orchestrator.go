package lens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/freshness"
)

// Orchestrator runs the full live-data path for one message: classify,
// assess risk, fan out to providers, combine failure semantics, and pack
// evidence.
type Orchestrator struct {
	classifier *Classifier
	registry   *ProviderRegistry
	staleness  *freshness.Checker
	logger     core.Logger
	telemetry  core.Telemetry
}

// OrchestratorOptions configures an Orchestrator
type OrchestratorOptions struct {
	Registry  *ProviderRegistry
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewOrchestrator creates an orchestrator. Registry is required.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		classifier: NewClassifier(logger),
		registry:   opts.Registry,
		staleness:  freshness.NewChecker(),
		logger:     logger,
		telemetry:  telemetry,
	}
}

// Process classifies a message and, when live data is needed, fetches it
// and builds the evidence pack. It returns a non-nil Result; errors are
// expressed through the result's mode, never through a Go error, so the
// pipeline can always render something to the user.
func (o *Orchestrator) Process(ctx context.Context, message string) *Result {
	ctx, span := o.telemetry.StartSpan(ctx, "lens.process")
	defer span.End()

	classification := o.classifier.Classify(message)
	risk := AssessRisk(classification)

	if classification.TruthMode == TruthLocal {
		result := &Result{
			Mode:                         ModePassthrough,
			TruthMode:                    TruthLocal,
			ResponseConstraints:          ResponseConstraints{Level: ConstraintPermissive},
			NumericPrecisionAllowed:      true,
			ActionRecommendationsAllowed: true,
		}
		// local answers can still concern slow-moving external facts
		// (laws, medical guidelines, company info) the model may have
		// learned before they changed
		if check := o.staleness.Check(message, 0, false); check.RequiredAction == freshness.ActionWarn {
			result.FreshnessWarning = fmt.Sprintf(
				"My information about %s may not reflect recent changes.",
				strings.ReplaceAll(check.Domain, "_", " "))
		}
		return result
	}

	span.SetAttribute("truth_mode", string(classification.TruthMode))
	span.SetAttribute("categories", len(classification.LiveCategories))

	results := o.fetchAll(ctx, classification)
	result := o.combine(classification, results)
	result.ForceHigh = risk.ForceHigh

	o.logger.Info("Lens processing complete", map[string]interface{}{
		"mode":       string(result.Mode),
		"truth_mode": string(result.TruthMode),
		"fetches":    len(results),
	})
	return result
}

// fetchAll runs one fetch per needed category concurrently. Results come
// back in classification order regardless of completion order.
func (o *Orchestrator) fetchAll(ctx context.Context, classification *DataNeedClassification) []ProviderResult {
	results := make([]ProviderResult, len(classification.LiveCategories))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range classification.LiveCategories {
		i, category := i, category
		query := ""
		if entities := classification.Entities[category]; len(entities) > 0 {
			query = entities[0]
		}
		g.Go(func() error {
			r := o.registry.Fetch(gctx, category, query)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil // individual failures are carried in the result
		})
	}
	g.Wait()
	return results
}

// combine applies the failure-semantics rules to the fetch results:
//
//   - all succeeded: live_fetch with a complete evidence pack
//   - time failed: blocked outright; there is no honest qualitative
//     answer to "what time is it"
//   - all failed, fallback refuse: blocked, user chooses retry or a
//     degraded answer
//   - all failed, proceed_degraded: degraded with numeric claims forbidden
//   - all failed, qualitative_only: degraded, qualitative language only
//   - partial: degraded under the most restrictive constraint across
//     per-category outcomes
func (o *Orchestrator) combine(classification *DataNeedClassification, results []ProviderResult) *Result {
	result := &Result{
		TruthMode:    classification.TruthMode,
		FetchResults: results,
	}

	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		} else if r.Category == CategoryTime {
			result.Mode = ModeBlocked
			result.RefusalMessage = "I can't determine the current time right now. Please try again in a moment."
			result.UserOptions = []string{OptionRetry, OptionCancel}
			result.ResponseConstraints = ResponseConstraints{Level: ConstraintInsufficient}
			return result
		}
	}

	switch {
	case succeeded == len(results) && succeeded > 0:
		result.Mode = ModeLiveFetch
		result.ResponseConstraints = ResponseConstraints{Level: ConstraintQuoteEvidenceOnly}
		result.NumericPrecisionAllowed = true
		result.ActionRecommendationsAllowed = classification.AllowsActionRecommendations

	case succeeded == 0:
		switch classification.FallbackMode {
		case FallbackRefuse:
			result.Mode = ModeBlocked
			result.RefusalMessage = "I couldn't fetch the live data needed to answer accurately. You can retry, or I can give a general answer without current figures."
			result.UserOptions = []string{OptionRetry, OptionProceedDegraded, OptionCancel}
			result.ResponseConstraints = ResponseConstraints{Level: ConstraintInsufficient}
			return result
		case FallbackQualitativeOnly:
			result.Mode = ModeDegraded
			result.DegradationReason = "all live fetches failed"
			result.ResponseConstraints = ResponseConstraints{Level: ConstraintQualitativeOnly}
		default:
			result.Mode = ModeDegraded
			result.DegradationReason = "all live fetches failed"
			result.ResponseConstraints = ResponseConstraints{Level: ConstraintForbidNumericClaims}
		}

	default: // partial
		result.Mode = ModeDegraded
		result.DegradationReason = "some live fetches failed"
		level := ConstraintQuoteEvidenceOnly
		for _, r := range results {
			if !r.OK {
				level = MostRestrictive(level, failedCategoryConstraint(r.Category))
			}
		}
		result.ResponseConstraints = ResponseConstraints{Level: level}
		result.NumericPrecisionAllowed = level == ConstraintQuoteEvidenceOnly
		result.ActionRecommendationsAllowed = false
	}

	result.Evidence = BuildEvidencePack(results, result.ResponseConstraints)
	if !result.Evidence.IsComplete && result.Mode == ModeLiveFetch {
		result.Mode = ModeDegraded
		result.DegradationReason = "evidence pack incomplete"
	}
	for _, w := range result.Evidence.FreshnessWarnings {
		result.FreshnessWarning = w
		break
	}
	return result
}

// failedCategoryConstraint maps a failed category to the constraint its
// absence imposes on the rest of the answer.
func failedCategoryConstraint(category LiveCategory) ConstraintLevel {
	switch category {
	case CategoryStock, CategoryCrypto, CategoryFX:
		// never invent figures for a failed financial fetch
		return ConstraintForbidNumericClaims
	case CategoryNews:
		return ConstraintQualitativeOnly
	default:
		return ConstraintForbidNumericClaims
	}
}
