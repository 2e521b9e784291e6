package classification

import (
	"strings"

	"spamfilter/core/domain"
)

// Subcategory refines a spam verdict by keyword counts. No hits gives
// Other; otherwise the strictly larger count wins and ties go to
// Promotional.
func (h *Heuristics) Subcategory(text string) domain.Subcategory {
	folded := foldText(text)

	promo := countHits(folded, h.subPromo)
	system := countHits(folded, h.subSystem)

	switch {
	case promo == 0 && system == 0:
		return domain.SubcategoryOther
	case system > promo:
		return domain.SubcategorySystemSocialEngineering
	default:
		return domain.SubcategoryPromotional
	}
}

func countHits(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}
