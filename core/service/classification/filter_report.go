package classification

import (
	"context"
	"fmt"
	"strings"

	"spamfilter/core/domain"
)

const (
	indicatorSimilarity = 0.7
	indicatorPreview    = 50
	highImpactSaliency  = 0.5
	highImpactTokens    = 5
	maxIndicators       = 10
)

// Explain classifies text, attributes it per token and summarizes both.
func (s *Service) Explain(ctx context.Context, text string, k int) (*domain.ExplainReport, error) {
	res, err := s.Classify(ctx, text, k, nil)
	if err != nil {
		return nil, err
	}
	tokens, err := s.ExplainTokens(ctx, text, k)
	if err != nil {
		return nil, err
	}

	labels := s.corpus.Labels
	positive := labels.Positive()
	report := &domain.ExplainReport{Classification: res, Tokens: tokens}

	for _, n := range res.Neighbors {
		if n.Similarity <= indicatorSimilarity {
			continue
		}
		line := similarLine(n.Text)
		if n.Label == positive {
			report.SpamIndicators = append(report.SpamIndicators, line)
		} else {
			report.HamIndicators = append(report.HamIndicators, line)
		}
	}

	var high []string
	for _, t := range tokens {
		if !t.Skipped && t.Saliency > highImpactSaliency {
			high = append(high, t.Token)
			if len(high) == highImpactTokens {
				break
			}
		}
	}
	if len(high) > 0 {
		report.SpamIndicators = append(report.SpamIndicators, "High-impact words: "+strings.Join(high, ", "))
	}
	report.SpamIndicators = capList(report.SpamIndicators, maxIndicators)
	report.HamIndicators = capList(report.HamIndicators, maxIndicators)

	report.Analysis = s.analysis(res)
	return report, nil
}

func (s *Service) analysis(res *domain.Classification) string {
	labels := s.corpus.Labels
	var b strings.Builder
	fmt.Fprintf(&b, "This message was classified as %s with %.2f%% confidence.",
		strings.ToUpper(labels.Name(res.Prediction)), res.Confidence*100)
	if res.Degenerate {
		b.WriteString(" The neighbor vote was degenerate, so the confidence is not meaningful.")
	}

	same := 0
	for _, n := range res.Neighbors {
		if n.Label == res.Prediction {
			same++
		}
	}
	if res.Prediction == labels.Positive() {
		fmt.Fprintf(&b, " Spam indicators detected with saliency weight of %.3f.", res.SaliencyWeight)
		fmt.Fprintf(&b, " The message shares similarities with %d spam examples in the training data.", same)
	} else {
		fmt.Fprintf(&b, " The message appears legitimate based on %d similar %s examples.", same, labels.Name(res.Prediction))
	}
	return b.String()
}

// Preview truncates text to n runes, appending "..." when cut.
func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// similarLine always ends in an ellipsis, cut or not.
func similarLine(text string) string {
	r := []rune(text)
	if len(r) > indicatorPreview {
		r = r[:indicatorPreview]
	}
	return "Similar to: " + string(r) + "..."
}

func capList(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}
