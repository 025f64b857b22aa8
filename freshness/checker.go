// Package freshness classifies a message into a data domain and decides,
// from the age of available data, what the response is allowed to claim.
//
// Each domain carries a maximum tolerable data age. Domains marked
// immediate (prices, weather, breaking news) treat unverified data as
// unsafe: without fresh data the response must not contain numeric claims.
package freshness

import (
	"regexp"
	"sort"
	"time"
)

// Action is what the caller must do about staleness
type Action string

const (
	ActionNone          Action = "none"
	ActionWarn          Action = "warn"
	ActionVerify        Action = "verify"
	ActionBlockNumerics Action = "block_numerics"
)

// Window describes a domain's freshness tolerance. A zero MaxAge means the
// domain never goes stale (historical facts, math).
type Window struct {
	MaxAge    time.Duration
	Immediate bool
}

// Result is the outcome of a freshness check
type Result struct {
	Domain         string
	Window         Window
	IsStale        bool
	StaleBy        time.Duration
	RequiredAction Action
}

// domainRule binds a domain to its detection patterns and priority.
// Higher priority wins when multiple domains match.
type domainRule struct {
	domain   string
	priority int
	patterns []*regexp.Regexp
	window   Window
}

// Checker detects the data domain of a message and evaluates staleness
type Checker struct {
	rules []domainRule
}

// NewChecker creates a checker with the standard domain windows
func NewChecker() *Checker {
	rules := []domainRule{
		{
			domain:   "crypto_prices",
			priority: 100,
			patterns: compile(`(?i)\b(bitcoin|btc|ethereum|eth|crypto(currency)?|altcoin|dogecoin|solana)\b.*\b(price|worth|value|trading|cost)\b`,
				`(?i)\b(price|worth|value)\b.*\b(bitcoin|btc|ethereum|eth|crypto)\b`),
			window: Window{MaxAge: 5 * time.Minute, Immediate: true},
		},
		{
			domain:   "stock_prices",
			priority: 95,
			patterns: compile(`(?i)\b(stock|share|ticker|nasdaq|nyse|s&p)\b.*\b(price|trading|quote|worth|at)\b`,
				`(?i)\b[A-Z]{2,5}\b.*\btrading at\b`, `(?i)\bwhat('s| is)\b.*\b(stock|share)\b`),
			window: Window{MaxAge: 15 * time.Minute, Immediate: true},
		},
		{
			domain:   "weather",
			priority: 90,
			patterns: compile(`(?i)\b(weather|temperature|forecast|rain(ing)?|snow(ing)?|humidity|wind speed)\b`),
			window:   Window{MaxAge: time.Hour, Immediate: true},
		},
		{
			domain:   "breaking_news",
			priority: 85,
			patterns: compile(`(?i)\b(breaking|just (happened|announced)|latest news|developing story)\b`),
			window:   Window{MaxAge: 4 * time.Hour, Immediate: true},
		},
		{
			domain:   "sports_scores",
			priority: 80,
			patterns: compile(`(?i)\b(score|game|match|playoffs?|final)\b.*\b(win|won|lost|beat|vs\.?|versus)\b`,
				`(?i)\bwho (won|is winning)\b`),
			window: Window{MaxAge: 2 * time.Hour},
		},
		{
			domain:   "news",
			priority: 75,
			patterns: compile(`(?i)\b(news|headlines?|current events|what('s| is) happening)\b`),
			window:   Window{MaxAge: 24 * time.Hour},
		},
		{
			domain:   "exchange_rates",
			priority: 70,
			patterns: compile(`(?i)\b(exchange rate|convert|conversion)\b.*\b(usd|eur|gbp|jpy|yen|euro|dollar|pound)\b`,
				`(?i)\b(usd|eur|gbp|jpy)\b.*\bto\b.*\b(usd|eur|gbp|jpy)\b`),
			window: Window{MaxAge: 24 * time.Hour},
		},
		{
			domain:   "product_prices",
			priority: 60,
			patterns: compile(`(?i)\bhow much (does|is|do)\b.*\b(cost|price)?\b`, `(?i)\b(cost|price) of\b`),
			window:   Window{MaxAge: 7 * 24 * time.Hour},
		},
		{
			domain:   "company_info",
			priority: 50,
			patterns: compile(`(?i)\b(ceo|founder|headquarters|employees|revenue) of\b`),
			window:   Window{MaxAge: 30 * 24 * time.Hour},
		},
		{
			domain:   "laws_regulations",
			priority: 40,
			patterns: compile(`(?i)\b(law|legal|regulation|statute|legislation|compliance)\b`),
			window:   Window{MaxAge: 90 * 24 * time.Hour},
		},
		{
			domain:   "medical_guidelines",
			priority: 30,
			patterns: compile(`(?i)\b(dosage|treatment guideline|medical advice|medication|prescription)\b`),
			window:   Window{MaxAge: 180 * 24 * time.Hour},
		},
		{
			domain:   "historical_facts",
			priority: 20,
			patterns: compile(`(?i)\b(history|historical|in \d{4}|ancient|century)\b`,
				`(?i)\b(math|physics|theorem|equation|formula)\b`),
			window: Window{}, // never stale
		},
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].priority > rules[j].priority })
	return &Checker{rules: rules}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DetectDomain returns the highest-priority matching domain, or "general"
func (c *Checker) DetectDomain(message string) (string, Window) {
	for _, rule := range c.rules {
		for _, p := range rule.patterns {
			if p.MatchString(message) {
				return rule.domain, rule.window
			}
		}
	}
	return "general", Window{}
}

// Check evaluates the message's domain against the age of the data that
// would back the answer. ageKnown=false means no fetch happened or its
// timestamp is unknown.
func (c *Checker) Check(message string, dataAge time.Duration, ageKnown bool) Result {
	domain, window := c.DetectDomain(message)
	result := Result{
		Domain:         domain,
		Window:         window,
		RequiredAction: ActionNone,
	}

	// Domains with no window never go stale
	if window.MaxAge == 0 && !window.Immediate {
		return result
	}

	if !ageKnown {
		if window.Immediate {
			result.IsStale = true
			result.RequiredAction = ActionBlockNumerics
		} else {
			result.RequiredAction = ActionWarn
		}
		return result
	}

	if dataAge <= window.MaxAge {
		return result
	}

	result.IsStale = true
	result.StaleBy = dataAge - window.MaxAge

	switch {
	case window.Immediate:
		result.RequiredAction = ActionBlockNumerics
	case dataAge > 2*window.MaxAge:
		result.RequiredAction = ActionVerify
	default:
		result.RequiredAction = ActionWarn
	}
	return result
}
