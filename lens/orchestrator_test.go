package lens

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeProvider struct {
	category LiveCategory
	data     ProviderData
	err      error
	delay    time.Duration
}

func (f *fakeProvider) Category() LiveCategory { return f.category }
func (f *fakeProvider) Name() string           { return "fake-" + string(f.category) }

func (f *fakeProvider) Fetch(ctx context.Context, query string) (ProviderData, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newOrchestrator(providers ...*fakeProvider) *Orchestrator {
	registry := NewProviderRegistry(nil)
	for _, p := range providers {
		registry.Register(p)
	}
	return NewOrchestrator(OrchestratorOptions{Registry: registry})
}

func TestProcessLocalPassthrough(t *testing.T) {
	orch := newOrchestrator()

	result := orch.Process(context.Background(), "Tell me about the Roman Empire")
	if result.Mode != ModePassthrough {
		t.Errorf("Expected passthrough, got %s", result.Mode)
	}
	if result.ForceHigh {
		t.Error("Expected no force-high on local queries")
	}
	if result.ResponseConstraints.Level != ConstraintPermissive {
		t.Errorf("Expected permissive constraints, got %s", result.ResponseConstraints.Level)
	}
	if result.FreshnessWarning != "" {
		t.Errorf("Expected no staleness advisory for a historical question, got %q", result.FreshnessWarning)
	}
}

func TestProcessPassthroughStalenessAdvisory(t *testing.T) {
	orch := newOrchestrator()

	result := orch.Process(context.Background(), "What does the new data privacy law require?")
	if result.Mode != ModePassthrough {
		t.Fatalf("Expected passthrough, got %s", result.Mode)
	}
	if !strings.Contains(result.FreshnessWarning, "laws regulations") {
		t.Errorf("Expected a staleness advisory naming the domain, got %q", result.FreshnessWarning)
	}
}

func TestProcessStockSuccess(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryStock,
		data:     StockData{Symbol: "AAPL", Price: 187.43, Change: 1.12, ChangePercent: 0.6, Currency: "USD"},
	})

	result := orch.Process(context.Background(), "What is the AAPL stock price?")
	if result.Mode != ModeLiveFetch {
		t.Fatalf("Expected live_fetch, got %s (reason: %s)", result.Mode, result.DegradationReason)
	}
	if !result.ForceHigh {
		t.Error("Expected force-high for a live-feed query")
	}
	if !result.NumericPrecisionAllowed {
		t.Error("Expected numeric precision allowed on successful fetch")
	}
	if result.Evidence == nil {
		t.Fatal("Expected an evidence pack")
	}
	if !result.Evidence.HasToken("187.43") {
		t.Errorf("Expected 187.43 in the numeric allow-list, got %v", result.Evidence.NumericTokens)
	}
	if !strings.Contains(result.Evidence.FormattedContext, "$187.43 USD") {
		t.Errorf("Expected explicit currency in context, got %q", result.Evidence.FormattedContext)
	}
}

func TestProcessBareTickerQuoteSuccess(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryStock,
		data:     StockData{Symbol: "AAPL", Price: 187.43, Change: 1.21, ChangePercent: 0.65, Currency: "USD"},
	})

	result := orch.Process(context.Background(), "What's AAPL trading at?")
	if result.Mode != ModeLiveFetch {
		t.Fatalf("Expected live_fetch, got %s (reason: %s)", result.Mode, result.DegradationReason)
	}
	if result.Evidence == nil {
		t.Fatal("Expected an evidence pack")
	}
	for _, token := range []string{"187.43", "1.21", "0.65"} {
		if !result.Evidence.HasToken(token) {
			t.Errorf("Expected %s in the numeric allow-list, got %v", token, result.Evidence.NumericTokens)
		}
	}
}

func TestProcessBareTickerQuoteFailureBlocks(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryStock,
		err:      errors.New("quote service timeout"),
	})

	result := orch.Process(context.Background(), "What's AAPL trading at?")
	if result.Mode != ModeBlocked {
		t.Fatalf("Expected blocked, got %s", result.Mode)
	}
	if result.NumericPrecisionAllowed {
		t.Error("Expected numeric precision disallowed when blocked")
	}
	hasDegraded := false
	for _, opt := range result.UserOptions {
		if opt == OptionProceedDegraded {
			hasDegraded = true
		}
	}
	if !hasDegraded {
		t.Errorf("Expected a proceed_degraded option, got %v", result.UserOptions)
	}
}

func TestProcessAllFailedRefuse(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryStock,
		err:      errors.New("upstream down"),
	})

	result := orch.Process(context.Background(), "What is the AAPL stock price?")
	if result.Mode != ModeBlocked {
		t.Fatalf("Expected blocked, got %s", result.Mode)
	}
	if result.NumericPrecisionAllowed {
		t.Error("Expected numeric precision disallowed when blocked")
	}
	hasRetry, hasDegraded := false, false
	for _, opt := range result.UserOptions {
		if opt == OptionRetry {
			hasRetry = true
		}
		if opt == OptionProceedDegraded {
			hasDegraded = true
		}
	}
	if !hasRetry || !hasDegraded {
		t.Errorf("Expected retry and proceed_degraded options, got %v", result.UserOptions)
	}
	if result.RefusalMessage == "" {
		t.Error("Expected a refusal message")
	}
}

func TestProcessTimeFailureBlocks(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryTime,
		err:      errors.New("tz service unreachable"),
	})

	result := orch.Process(context.Background(), "What time is it in Tokyo?")
	if result.Mode != ModeBlocked {
		t.Fatalf("Expected blocked on time failure, got %s", result.Mode)
	}
	for _, opt := range result.UserOptions {
		if opt == OptionProceedDegraded {
			t.Error("Expected no qualitative fallback for time queries")
		}
	}
}

func TestProcessWeatherFailureDegrades(t *testing.T) {
	orch := newOrchestrator(&fakeProvider{
		category: CategoryWeather,
		err:      errors.New("api down"),
	})

	result := orch.Process(context.Background(), "What's the weather in Boston?")
	if result.Mode != ModeDegraded {
		t.Fatalf("Expected degraded, got %s", result.Mode)
	}
	if result.ResponseConstraints.Level != ConstraintForbidNumericClaims {
		t.Errorf("Expected forbid_numeric_claims, got %s", result.ResponseConstraints.Level)
	}
}

func TestProcessPartialFailureMostRestrictive(t *testing.T) {
	orch := newOrchestrator(
		&fakeProvider{
			category: CategoryWeather,
			data:     WeatherData{Location: "Boston", TempC: 22, TempF: 71.6, Conditions: "sunny"},
		},
		&fakeProvider{
			category: CategoryStock,
			err:      errors.New("quote service down"),
		},
	)

	result := orch.Process(context.Background(), "What's the AAPL stock price and the weather in Boston?")
	if result.Mode != ModeDegraded {
		t.Fatalf("Expected degraded on partial failure, got %s", result.Mode)
	}
	if result.ResponseConstraints.Level != ConstraintForbidNumericClaims {
		t.Errorf("Expected forbid_numeric_claims for failed financial fetch, got %s", result.ResponseConstraints.Level)
	}
	if result.NumericPrecisionAllowed {
		t.Error("Expected numeric precision disallowed on partial failure")
	}
}

func TestProviderTimeoutBecomesTaggedError(t *testing.T) {
	registry := NewProviderRegistry(nil)
	registry.SetTimeout(20 * time.Millisecond)
	registry.Register(&fakeProvider{
		category: CategoryStock,
		delay:    200 * time.Millisecond,
		data:     StockData{Symbol: "AAPL", Price: 1},
	})

	result := registry.Fetch(context.Background(), CategoryStock, "AAPL")
	if result.OK {
		t.Fatal("Expected a failed result on timeout")
	}
	if result.Err.Code != ErrCodeTimeout {
		t.Errorf("Expected timeout code, got %s", result.Err.Code)
	}
	if !result.Err.Retryable {
		t.Error("Expected timeout to be retryable")
	}
}

func TestFetchUnregisteredCategory(t *testing.T) {
	registry := NewProviderRegistry(nil)

	result := registry.Fetch(context.Background(), CategoryCrypto, "btc")
	if result.OK || result.Err.Code != ErrCodeUnavailable {
		t.Errorf("Expected unavailable for unregistered category, got %+v", result)
	}
}
