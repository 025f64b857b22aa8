// Package lens implements the live-data path of the pipeline: classifying
// what a message needs, scoring its risk, fetching from per-category
// providers in parallel, and packing the results into evidence the
// generator is constrained to quote.
package lens

import (
	"time"
)

// TruthMode is the data-freshness class a query demands
type TruthMode string

const (
	TruthLocal    TruthMode = "local"     // no live data needed
	TruthLiveFeed TruthMode = "live_feed" // requires real-time data
	TruthMixed    TruthMode = "mixed"     // live data plus general knowledge
)

// LiveCategory identifies a class of live data with its own provider
type LiveCategory string

const (
	CategoryStock   LiveCategory = "stock"
	CategoryWeather LiveCategory = "weather"
	CategoryCrypto  LiveCategory = "crypto"
	CategoryFX      LiveCategory = "fx"
	CategoryTime    LiveCategory = "time"
	CategoryNews    LiveCategory = "news"
)

// FallbackMode is what to do when live data cannot be fetched
type FallbackMode string

const (
	FallbackRefuse          FallbackMode = "refuse"
	FallbackProceedDegraded FallbackMode = "proceed_degraded"
	FallbackQualitativeOnly FallbackMode = "qualitative_only"
)

// DataNeedClassification is the classifier's output, immutable once set
type DataNeedClassification struct {
	TruthMode                   TruthMode
	LiveCategories              []LiveCategory
	Entities                    map[LiveCategory][]string
	FallbackMode                FallbackMode
	FreshnessCritical           bool
	MaxDataAge                  time.Duration // zero means unconstrained
	RequiresNumericPrecision    bool
	AllowsActionRecommendations bool
}

// RiskAssessment is the risk assessor's output
type RiskAssessment struct {
	// ForceHigh must be true whenever TruthMode is live_feed or mixed
	ForceHigh  bool
	StakeLevel string // low, medium, high, critical
	Score      float64
}

// ProviderErrorCode values for failed fetches
const (
	ErrCodeTimeout     = "timeout"
	ErrCodeUnavailable = "unavailable"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal"
)

// ProviderError describes a failed fetch
type ProviderError struct {
	Code      string
	Message   string
	Retryable bool
}

// ProviderData is the tagged payload union. Exactly one concrete type is
// carried per result; formatters dispatch on the concrete type.
type ProviderData interface {
	providerData()
}

// StockData is a stock quote
type StockData struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Currency      string
}

// WeatherData is a current-conditions report
type WeatherData struct {
	Location    string
	TempC       float64
	TempF       float64
	Conditions  string
	WindKmh     float64
	HumidityPct float64
}

// CryptoData is a cryptocurrency quote
type CryptoData struct {
	Symbol        string
	PriceUSD      float64
	ChangePercent float64
	MarketCapUSD  float64
}

// FXData is an exchange-rate quote
type FXData struct {
	Base  string
	Quote string
	Rate  float64
}

// TimeData is a timezone-resolved clock reading
type TimeData struct {
	Location string
	Time     time.Time
	Zone     string
}

// NewsData is a set of headlines
type NewsData struct {
	Topic     string
	Headlines []string
}

func (StockData) providerData()   {}
func (WeatherData) providerData() {}
func (CryptoData) providerData()  {}
func (FXData) providerData()      {}
func (TimeData) providerData()    {}
func (NewsData) providerData()    {}

// ProviderResult is the tagged ok/err outcome of a single fetch
type ProviderResult struct {
	Category  LiveCategory
	Provider  string
	OK        bool
	Data      ProviderData
	FetchedAt time.Time
	Err       *ProviderError
}

// ConstraintLevel bounds what the generated response may claim
type ConstraintLevel string

const (
	ConstraintPermissive          ConstraintLevel = "permissive"
	ConstraintQuoteEvidenceOnly   ConstraintLevel = "quote_evidence_only"
	ConstraintForbidNumericClaims ConstraintLevel = "forbid_numeric_claims"
	ConstraintQualitativeOnly     ConstraintLevel = "qualitative_only"
	ConstraintInsufficient        ConstraintLevel = "insufficient"
)

// restrictiveness orders constraint levels; higher rank wins when
// combining per-category semantics.
func restrictiveness(level ConstraintLevel) int {
	switch level {
	case ConstraintPermissive:
		return 0
	case ConstraintQuoteEvidenceOnly:
		return 1
	case ConstraintForbidNumericClaims:
		return 2
	case ConstraintQualitativeOnly:
		return 3
	case ConstraintInsufficient:
		return 4
	default:
		return 0
	}
}

// MostRestrictive returns the stricter of two constraint levels
func MostRestrictive(a, b ConstraintLevel) ConstraintLevel {
	if restrictiveness(b) > restrictiveness(a) {
		return b
	}
	return a
}

// ResponseConstraints is what the downstream generator must honor
type ResponseConstraints struct {
	Level ConstraintLevel
}

// EvidencePack is the formatted provider data handed to the generator.
// NumericTokens is the closed allow-list of numeric literals the response
// may reproduce under quote_evidence_only.
type EvidencePack struct {
	ContextItems          []string
	NumericTokens         map[string]struct{}
	Constraints           ResponseConstraints
	FormattedContext      string
	SystemPromptAdditions []string
	FreshnessWarnings     []string
	IsComplete            bool
}

// HasToken reports whether a numeric literal is in the allow-list
func (e *EvidencePack) HasToken(token string) bool {
	_, ok := e.NumericTokens[token]
	return ok
}

// Mode is the overall outcome class of the lens stage
type Mode string

const (
	ModePassthrough Mode = "passthrough"
	ModeLiveFetch   Mode = "live_fetch"
	ModeDegraded    Mode = "degraded"
	ModeBlocked     Mode = "blocked"
)

// User options offered on blocked results
const (
	OptionRetry           = "retry"
	OptionProceedDegraded = "proceed_degraded"
	OptionCancel          = "cancel"
)

// Result is the lens-gate output consumed by the pipeline
type Result struct {
	Mode                         Mode
	TruthMode                    TruthMode
	FetchResults                 []ProviderResult
	Evidence                     *EvidencePack
	ResponseConstraints          ResponseConstraints
	NumericPrecisionAllowed      bool
	ActionRecommendationsAllowed bool
	ForceHigh                    bool
	FreshnessWarning             string
	RefusalMessage               string
	UserOptions                  []string
	DegradationReason            string
}
