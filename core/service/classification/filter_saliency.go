package classification

import "strings"

// =============================================================================
// Lexical Saliency Heuristic
// =============================================================================

const (
	saliencyOffset = 0.2
	saliencyMin    = 0.1
	saliencyMax    = 1.0
)

// Saliency scores how strongly the text's wording alone suggests spam.
//
//	score = (promo + social + urgency + money) / max(words, 1) + 0.2
//
// clamped to [0.1, 1.0]. Promotional entries match per word (substring of
// the word, first entry wins); the others match against the full text.
func (h *Heuristics) Saliency(text string) float64 {
	folded := foldText(text)
	words := strings.Fields(folded)

	var total float64
	for _, w := range words {
		for _, e := range h.promotional {
			if strings.Contains(w, e.Pattern) {
				total += e.Weight
				break
			}
		}
	}
	for _, e := range h.social {
		if strings.Contains(folded, e.Pattern) {
			total += e.Weight
		}
	}
	for _, e := range h.urgency {
		if strings.Contains(folded, e.Pattern) {
			total += e.Weight
		}
	}
	if h.money.MatchString(folded) {
		total += h.moneyBonus
	}

	n := len(words)
	if n < 1 {
		n = 1
	}
	return clamp(total/float64(n)+saliencyOffset, saliencyMin, saliencyMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
