package lens

import (
	"regexp"
	"strings"
	"time"

	"github.com/wardline/wardline/core"
)

// categoryRule pairs a live category with the message patterns that
// trigger it and its policy when the fetch fails.
type categoryRule struct {
	category   LiveCategory
	patterns   []*regexp.Regexp
	match      func(string) bool // extra matcher beyond the patterns
	fallback   FallbackMode
	maxDataAge time.Duration
	numeric    bool // answers require exact figures
}

func (r categoryRule) matches(message string) bool {
	if matchesAny(r.patterns, message) {
		return true
	}
	return r.match != nil && r.match(message)
}

var categoryRules = []categoryRule{
	{
		category: CategoryCrypto,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|solana|dogecoin|crypto(currency)?)\b.*\b(price|worth|value|trading|cost)`),
			regexp.MustCompile(`(?i)\b(price|worth|value)\b.*\b(bitcoin|btc|ethereum|eth|solana|dogecoin)\b`),
			regexp.MustCompile(`(?i)\bhow much is\b.*\b(bitcoin|btc|ethereum|eth|solana|dogecoin)\b`),
		},
		fallback:   FallbackRefuse,
		maxDataAge: 5 * time.Minute,
		numeric:    true,
	},
	{
		category: CategoryStock,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(stock|share|ticker|nasdaq|nyse|s&p)\b.*\b(price|quote|trading|worth|value|at)\b`),
			regexp.MustCompile(`(?i)\b(price|quote|value)\b.*\b(stock|share|shares)\b`),
			regexp.MustCompile(`(?i)\bhow (is|are)\b.*\b(stock|shares?)\b.*\b(doing|performing)\b`),
			regexp.MustCompile(`(?i)\b[A-Z]{2,5}\b stock`),
		},
		match:      bareTickerQuote,
		fallback:   FallbackRefuse,
		maxDataAge: 15 * time.Minute,
		numeric:    true,
	},
	{
		category: CategoryFX,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(exchange rate|conversion rate|convert)\b`),
			regexp.MustCompile(`(?i)\b(usd|eur|gbp|jpy|cad|aud|chf|inr)\b\s*(to|in|into|/)\s*\b(usd|eur|gbp|jpy|cad|aud|chf|inr)\b`),
			regexp.MustCompile(`(?i)\bhow (much|many)\b.*\b(dollars?|euros?|pounds?|yen)\b.*\b(in|to)\b`),
		},
		fallback:   FallbackProceedDegraded,
		maxDataAge: 24 * time.Hour,
		numeric:    true,
	},
	{
		category: CategoryWeather,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(weather|temperature|forecast|raining|snowing|humidity|windy?)\b`),
			regexp.MustCompile(`(?i)\bhow (hot|cold|warm)\b`),
			regexp.MustCompile(`(?i)\b(umbrella|jacket)\b.*\b(today|tomorrow|need)\b`),
		},
		fallback:   FallbackProceedDegraded,
		maxDataAge: time.Hour,
	},
	{
		category: CategoryTime,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwhat time is it\b`),
			regexp.MustCompile(`(?i)\b(current|local) time\b`),
			regexp.MustCompile(`(?i)\btime (in|at)\b\s+[A-Z]`),
		},
		fallback: FallbackRefuse,
	},
	{
		category: CategoryNews,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(latest|breaking|today'?s|recent) news\b`),
			regexp.MustCompile(`(?i)\bwhat('?s| is) happening\b.*\b(today|now|with)\b`),
			regexp.MustCompile(`(?i)\bheadlines?\b`),
		},
		fallback:   FallbackQualitativeOnly,
		maxDataAge: 4 * time.Hour,
	},
}

// mixed-mode cues: the message also wants explanation or advice beyond
// the raw figure.
var explanatoryRe = regexp.MustCompile(`(?i)\b(why|explain|should i|what does (that|this|it) mean|how does|is it a good)\b`)

// quoteCueRe marks quote questions that name a symbol without a market
// keyword, e.g. "What's AAPL trading at?"
var quoteCueRe = regexp.MustCompile(`(?i)\b(trading|price|priced|quote|worth)\b`)

// bareTickerQuote reports whether the message pairs a plausible ticker
// symbol with a quote cue.
func bareTickerQuote(message string) bool {
	if !quoteCueRe.MatchString(message) {
		return false
	}
	for _, m := range tickerRe.FindAllString(message, -1) {
		if !tickerStopwords[m] {
			return true
		}
	}
	return false
}

// actionRe detects requests for a recommendation tied to the live data
var actionRe = regexp.MustCompile(`(?i)\b(should i (buy|sell|invest|hold)|worth (buying|selling|investing)|good (time|idea) to (buy|sell|invest))\b`)

var (
	tickerRe       = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	cryptoNameRe   = regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|solana|sol|dogecoin|doge)\b`)
	locationRe     = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`)
	currencyPairRe = regexp.MustCompile(`(?i)\b(usd|eur|gbp|jpy|cad|aud|chf|inr)\b\s*(?:to|in|into|/)\s*\b(usd|eur|gbp|jpy|cad|aud|chf|inr)\b`)
)

// tickerStopwords are common all-caps words that are not stock symbols
var tickerStopwords = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "WHAT": true, "HOW": true,
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "BTC": true,
	"ETH": true, "NYSE": true, "TODO": true, "ASAP": true, "OK": true,
	"NYC": true, "USA": true, "CEO": true, "LOL": true,
}

// Classifier maps a user message to its live-data needs. Classification
// is deterministic: the same message always yields the same result.
type Classifier struct {
	logger core.Logger
}

// NewClassifier creates a classifier
func NewClassifier(logger core.Logger) *Classifier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Classifier{logger: logger}
}

// Classify analyzes a message and returns its data-need classification.
// The result is never nil.
func (c *Classifier) Classify(message string) *DataNeedClassification {
	classification := &DataNeedClassification{
		TruthMode:                   TruthLocal,
		Entities:                    make(map[LiveCategory][]string),
		AllowsActionRecommendations: true,
	}

	for _, rule := range categoryRules {
		if !rule.matches(message) {
			continue
		}
		classification.LiveCategories = append(classification.LiveCategories, rule.category)
		classification.Entities[rule.category] = extractEntities(rule.category, message)

		// the strictest fallback across matched categories wins
		classification.FallbackMode = stricterFallback(classification.FallbackMode, rule.fallback)
		if rule.maxDataAge > 0 && (classification.MaxDataAge == 0 || rule.maxDataAge < classification.MaxDataAge) {
			classification.MaxDataAge = rule.maxDataAge
		}
		if rule.numeric {
			classification.RequiresNumericPrecision = true
		}
	}

	if len(classification.LiveCategories) == 0 {
		return classification
	}

	if explanatoryRe.MatchString(message) {
		classification.TruthMode = TruthMixed
	} else {
		classification.TruthMode = TruthLiveFeed
	}

	// data younger than its category window is mandatory for these
	classification.FreshnessCritical = classification.MaxDataAge > 0 && classification.MaxDataAge <= time.Hour

	// financial action advice is never generated from live quotes
	if actionRe.MatchString(message) {
		classification.AllowsActionRecommendations = false
	}
	if classification.RequiresNumericPrecision && hasCategory(classification.LiveCategories, CategoryStock, CategoryCrypto) {
		classification.AllowsActionRecommendations = false
	}

	c.logger.Debug("Message classified", map[string]interface{}{
		"truth_mode": string(classification.TruthMode),
		"categories": len(classification.LiveCategories),
		"fallback":   string(classification.FallbackMode),
	})
	return classification
}

func matchesAny(patterns []*regexp.Regexp, message string) bool {
	for _, p := range patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

func hasCategory(categories []LiveCategory, want ...LiveCategory) bool {
	for _, c := range categories {
		for _, w := range want {
			if c == w {
				return true
			}
		}
	}
	return false
}

// stricterFallback orders refuse > qualitative_only > proceed_degraded
func stricterFallback(a, b FallbackMode) FallbackMode {
	rank := func(m FallbackMode) int {
		switch m {
		case FallbackRefuse:
			return 3
		case FallbackQualitativeOnly:
			return 2
		case FallbackProceedDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func extractEntities(category LiveCategory, message string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e != "" && !seen[e] {
			seen[e] = true
			entities = append(entities, e)
		}
	}

	switch category {
	case CategoryStock:
		for _, m := range tickerRe.FindAllString(message, -1) {
			if !tickerStopwords[m] {
				add(m)
			}
		}
	case CategoryCrypto:
		for _, m := range cryptoNameRe.FindAllString(message, -1) {
			add(strings.ToLower(m))
		}
	case CategoryWeather, CategoryTime:
		for _, m := range locationRe.FindAllStringSubmatch(message, -1) {
			add(m[1])
		}
	case CategoryFX:
		for _, m := range currencyPairRe.FindAllStringSubmatch(message, -1) {
			add(strings.ToUpper(m[1]) + "/" + strings.ToUpper(m[2]))
		}
	}
	return entities
}
