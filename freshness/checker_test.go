package freshness

import (
	"testing"
	"time"
)

func TestDetectDomainPriorities(t *testing.T) {
	checker := NewChecker()

	cases := []struct {
		message string
		domain  string
	}{
		{"What's the bitcoin price right now?", "crypto_prices"},
		{"What's AAPL trading at?", "stock_prices"},
		{"Is it raining in Seattle?", "weather"},
		{"Any breaking news on the election?", "breaking_news"},
		{"Who won the game last night?", "sports_scores"},
		{"Convert 100 USD to EUR please", "exchange_rates"},
		{"Who is the CEO of Acme Corp?", "company_info"},
		{"What happened in 1969?", "historical_facts"},
		{"Tell me a joke", "general"},
	}

	for _, tc := range cases {
		domain, _ := checker.DetectDomain(tc.message)
		if domain != tc.domain {
			t.Errorf("%q: expected domain %s, got %s", tc.message, tc.domain, domain)
		}
	}
}

func TestImmediateDomainUnknownAgeBlocksNumerics(t *testing.T) {
	checker := NewChecker()

	result := checker.Check("What's the bitcoin price?", 0, false)
	if result.Domain != "crypto_prices" {
		t.Fatalf("Expected crypto_prices, got %s", result.Domain)
	}
	if result.RequiredAction != ActionBlockNumerics {
		t.Errorf("Expected block_numerics for immediate domain with unknown age, got %s", result.RequiredAction)
	}
	if !result.IsStale {
		t.Error("Expected unknown-age immediate data to count as stale")
	}
}

func TestFreshDataRequiresNothing(t *testing.T) {
	checker := NewChecker()

	result := checker.Check("What's AAPL trading at?", time.Minute, true)
	if result.RequiredAction != ActionNone {
		t.Errorf("Expected none for fresh data, got %s", result.RequiredAction)
	}
	if result.IsStale {
		t.Error("Expected fresh data not stale")
	}
}

func TestImmediateDomainStaleBlocksNumerics(t *testing.T) {
	checker := NewChecker()

	// stock window is 15m
	result := checker.Check("What's AAPL trading at?", time.Hour, true)
	if result.RequiredAction != ActionBlockNumerics {
		t.Errorf("Expected block_numerics for stale immediate data, got %s", result.RequiredAction)
	}
	if result.StaleBy != 45*time.Minute {
		t.Errorf("Expected stale by 45m, got %v", result.StaleBy)
	}
}

func TestNonImmediateVeryStaleRequiresVerify(t *testing.T) {
	checker := NewChecker()

	// sports window is 2h, not immediate; 5h is > 2x window
	result := checker.Check("Who won the game last night?", 5*time.Hour, true)
	if result.RequiredAction != ActionVerify {
		t.Errorf("Expected verify for very stale data, got %s", result.RequiredAction)
	}
}

func TestNonImmediateSlightlyStaleWarns(t *testing.T) {
	checker := NewChecker()

	// sports window is 2h; 3h is stale but below 2x
	result := checker.Check("Who won the game last night?", 3*time.Hour, true)
	if result.RequiredAction != ActionWarn {
		t.Errorf("Expected warn for slightly stale data, got %s", result.RequiredAction)
	}
}

func TestHistoricalFactsNeverStale(t *testing.T) {
	checker := NewChecker()

	result := checker.Check("What happened in 1969?", 10*365*24*time.Hour, true)
	if result.IsStale || result.RequiredAction != ActionNone {
		t.Errorf("Expected historical facts to never go stale, got %+v", result)
	}
}

func TestGeneralDomainWithUnknownAgeWarnsOnly(t *testing.T) {
	checker := NewChecker()

	result := checker.Check("Tell me a joke", 0, false)
	if result.Domain != "general" {
		t.Fatalf("Expected general, got %s", result.Domain)
	}
	if result.RequiredAction != ActionNone {
		t.Errorf("Expected none for general domain, got %s", result.RequiredAction)
	}
}
