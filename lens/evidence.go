package lens

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// numericTokenRe extracts every numeric literal from formatted evidence.
// Matches plain integers, decimals, and comma-grouped figures.
var numericTokenRe = regexp.MustCompile(`-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+\.\d+|-?\d+`)

// BuildEvidencePack formats successful fetch results into deterministic
// prose and extracts the numeric allow-list. Formatting is fixed per data
// type: every figure carries its unit or currency code so the generator
// never has to infer one.
func BuildEvidencePack(results []ProviderResult, constraints ResponseConstraints) *EvidencePack {
	pack := &EvidencePack{
		NumericTokens: make(map[string]struct{}),
		Constraints:   constraints,
		IsComplete:    true,
	}

	for _, r := range results {
		if !r.OK {
			pack.IsComplete = false
			continue
		}
		item := FormatResult(r)
		if item == "" {
			pack.IsComplete = false
			continue
		}
		pack.ContextItems = append(pack.ContextItems, item)
		for _, token := range numericTokenRe.FindAllString(item, -1) {
			pack.NumericTokens[token] = struct{}{}
		}
		if warning := freshnessWarning(r); warning != "" {
			pack.FreshnessWarnings = append(pack.FreshnessWarnings, warning)
		}
	}

	if len(pack.ContextItems) > 0 {
		pack.FormattedContext = "Verified live data:\n- " + strings.Join(pack.ContextItems, "\n- ")
	}
	pack.SystemPromptAdditions = promptAdditions(constraints.Level)
	return pack
}

// FormatResult renders one successful result as a single evidence line.
// Returns "" for failed results or unknown payload types.
func FormatResult(r ProviderResult) string {
	if !r.OK || r.Data == nil {
		return ""
	}
	switch d := r.Data.(type) {
	case StockData:
		currency := d.Currency
		if currency == "" {
			currency = "USD"
		}
		return fmt.Sprintf("%s stock: $%.2f %s, change %+.2f (%+.2f%%)",
			d.Symbol, d.Price, currency, d.Change, d.ChangePercent)
	case CryptoData:
		line := fmt.Sprintf("%s: $%s USD, 24h change %+.2f%%",
			strings.ToUpper(d.Symbol), groupThousands(d.PriceUSD), d.ChangePercent)
		if d.MarketCapUSD > 0 {
			line += fmt.Sprintf(", market cap $%s USD", groupThousands(d.MarketCapUSD))
		}
		return line
	case WeatherData:
		return fmt.Sprintf("Weather in %s: %s, %.1f°C (%.1f°F), wind %.0f km/h, humidity %.0f%%",
			d.Location, d.Conditions, d.TempC, d.TempF, d.WindKmh, d.HumidityPct)
	case FXData:
		return fmt.Sprintf("Exchange rate: 1 %s = %.4f %s", d.Base, d.Rate, d.Quote)
	case TimeData:
		return fmt.Sprintf("Current time in %s: %s (%s)",
			d.Location, d.Time.Format("3:04 PM, Monday, January 2, 2006"), d.Zone)
	case NewsData:
		if len(d.Headlines) == 0 {
			return ""
		}
		return fmt.Sprintf("Headlines for %s: %s", d.Topic, strings.Join(d.Headlines, " | "))
	default:
		return ""
	}
}

// groupThousands formats a positive amount with comma grouping and two
// decimal places, e.g. 43251.7 -> "43,251.70".
func groupThousands(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]

	neg := false
	if strings.HasPrefix(whole, "-") {
		neg = true
		whole = whole[1:]
	}
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func freshnessWarning(r ProviderResult) string {
	if r.FetchedAt.IsZero() {
		return ""
	}
	age := time.Since(r.FetchedAt)
	window := map[LiveCategory]time.Duration{
		CategoryCrypto:  5 * time.Minute,
		CategoryStock:   15 * time.Minute,
		CategoryWeather: time.Hour,
		CategoryNews:    4 * time.Hour,
		CategoryFX:      24 * time.Hour,
	}[r.Category]
	if window > 0 && age > window {
		return fmt.Sprintf("%s data is %s old and may be out of date", r.Category, age.Round(time.Minute))
	}
	return ""
}

// promptAdditions returns the system-prompt lines enforcing a constraint
// level on the generator.
func promptAdditions(level ConstraintLevel) []string {
	switch level {
	case ConstraintQuoteEvidenceOnly:
		return []string{
			"You have verified live data below. Use ONLY the exact figures provided; never compute, estimate, or recall other numbers.",
			"Attribute every figure to the live data, e.g. \"as of just now\".",
		}
	case ConstraintForbidNumericClaims:
		return []string{
			"Live data could not be fetched. Do NOT state any specific numbers, prices, rates, or quantities.",
			"Explain concepts qualitatively and tell the user to check a live source for current figures.",
		}
	case ConstraintQualitativeOnly:
		return []string{
			"Current information is unavailable. Answer only in general, qualitative terms and say your information may be out of date.",
		}
	case ConstraintInsufficient:
		return []string{
			"Required data is unavailable. Decline to answer the factual question and offer to retry.",
		}
	default:
		return nil
	}
}
