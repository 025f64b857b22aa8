// Package shield enforces the safety state machine: detecting crisis and
// concerning signals, gating continuation behind acknowledgement tokens,
// and guaranteeing crisis resources render before anything else.
package shield

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// crisisBlockPrefixWindow is how deep into a response the crisis block
// must begin to count as leading the response.
const crisisBlockPrefixWindow = 1500

// CrisisBlock is the immutable resource text shown on crisis detection.
// It always renders first, byte for byte, before any generated content.
const CrisisBlock = `---

**If you're in crisis or thinking about harming yourself, please reach out right now:**

- **988 Suicide & Crisis Lifeline**: call or text **988** (available 24/7)
- **Crisis Text Line**: text **HOME** to **741741** (available 24/7)
- **SAMHSA National Helpline**: **1-800-662-4357** (available 24/7, free and confidential)

You don't have to go through this alone.

---`

// orderedMarkers is the resource order a rendered block must preserve:
// opening separator, the hotlines in fixed order, closing separator.
// Verification checks content, not exact bytes, so whitespace-only
// transport differences do not trip it.
var orderedMarkers = []string{
	"---",
	"988",
	"741741",
	"1-800-662-4357",
	"---",
}

// CrisisBlockHash returns the SHA-256 of the canonical crisis block, used
// to record in the audit trail exactly which resource text was shown.
func CrisisBlockHash() string {
	sum := sha256.Sum256([]byte(CrisisBlock))
	return hex.EncodeToString(sum[:])
}

// VerifyCrisisBlock reports whether a response leads with an intact
// crisis block: it opens with the separator and carries every hotline
// in the required order within the prefix window.
func VerifyCrisisBlock(response string) bool {
	window := response
	if len(window) > crisisBlockPrefixWindow {
		window = window[:crisisBlockPrefixWindow]
	}
	if !strings.HasPrefix(strings.TrimSpace(window), "---") {
		return false
	}
	pos := 0
	for _, marker := range orderedMarkers {
		i := strings.Index(window[pos:], marker)
		if i < 0 {
			return false
		}
		pos += i + len(marker)
	}
	return strings.Contains(window, "available 24/7")
}

// RenderWithCrisisBlock prepends the crisis block to generated content
func RenderWithCrisisBlock(content string) string {
	if content == "" {
		return CrisisBlock
	}
	return CrisisBlock + "\n\n" + content
}
