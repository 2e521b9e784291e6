package classification

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"spamfilter/core/domain"
	"spamfilter/core/port/out"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
	"spamfilter/pkg/metrics"
)

// =============================================================================
// Token Saliency Explainer (occlusion)
// =============================================================================

// TokenExplainer attributes the spam verdict to individual tokens by masking
// each one and measuring the drop in positive-label neighbor similarity.
type TokenExplainer struct {
	embedder    out.Embedder
	tokenizer   out.Tokenizer
	corpus      *Corpus
	concurrency int
	log         *logger.Logger
}

// NewTokenExplainer creates an explainer. concurrency <= 1 runs tokens
// sequentially.
func NewTokenExplainer(embedder out.Embedder, tokenizer out.Tokenizer, corpus *Corpus, concurrency int) *TokenExplainer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TokenExplainer{
		embedder:    embedder,
		tokenizer:   tokenizer,
		corpus:      corpus,
		concurrency: concurrency,
		log:         logger.WithField("component", "token_explainer"),
	}
}

// Explain returns one record per token in token order. A single token gets
// saliency 1.0. Tokens whose masked round trip fails are logged, marked
// Skipped and left out of normalization. Cancellation returns no result.
func (e *TokenExplainer) Explain(ctx context.Context, text string, k int) ([]domain.TokenSaliency, error) {
	tokens, err := e.tokenizer.Tokenize(text)
	if err != nil {
		return nil, apperr.ExternalError("tokenizer", err)
	}
	switch len(tokens) {
	case 0:
		return []domain.TokenSaliency{}, nil
	case 1:
		return []domain.TokenSaliency{{Token: tokens[0], Saliency: 1.0}}, nil
	}

	baseline, err := e.spamMass(ctx, text, k)
	if err != nil {
		return nil, err
	}

	results := make([]domain.TokenSaliency, len(tokens))
	mask := e.tokenizer.MaskToken()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, tok := range tokens {
		results[i].Token = tok
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			masked := make([]string, len(tokens))
			copy(masked, tokens)
			masked[i] = mask

			maskedText, err := e.tokenizer.Detokenize(masked)
			if err != nil {
				e.log.WithError(err).Warn("detokenize failed at token %d, skipping", i)
				results[i].Skipped = true
				return nil
			}
			m, err := e.spamMass(gctx, maskedText, k)
			if err != nil {
				if isContextErr(err) {
					return err
				}
				e.log.WithError(err).Warn("masked search failed at token %d, skipping", i)
				results[i].Skipped = true
				return nil
			}
			results[i].RawDiff = baseline - m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !normalize(results) {
		return nil, apperr.ExternalError("embedding", errors.New("every masked token failed"))
	}
	return results, nil
}

// spamMass sums the similarities of positive-label neighbors in the top-k.
func (e *TokenExplainer) spamMass(ctx context.Context, text string, k int) (float64, error) {
	done := e.corpus.Latency.Observe(metrics.StageEmbed)
	vec, err := e.embedder.Embed(ctx, text)
	done()
	if err != nil {
		return 0, upstreamError(ctx, "embedding", err)
	}
	neighbors, err := e.corpus.Search(ctx, vec, k)
	if err != nil {
		return 0, err
	}

	positive := e.corpus.Labels.Positive()
	var mass float64
	for _, n := range neighbors {
		if n.Label == positive {
			mass += n.Similarity
		}
	}
	return mass, nil
}

// normalize min-max scales RawDiff into Saliency over non-skipped records.
// Equal raw values all map to 1.0. It reports false when every record was
// skipped.
func normalize(results []domain.TokenSaliency) bool {
	first := true
	var lo, hi float64
	for _, r := range results {
		if r.Skipped {
			continue
		}
		if first {
			lo, hi = r.RawDiff, r.RawDiff
			first = false
			continue
		}
		if r.RawDiff < lo {
			lo = r.RawDiff
		}
		if r.RawDiff > hi {
			hi = r.RawDiff
		}
	}
	if first {
		return false
	}

	span := hi - lo
	for i := range results {
		switch {
		case results[i].Skipped:
			results[i].Saliency = 0
		case span == 0:
			results[i].Saliency = 1.0
		default:
			results[i].Saliency = (results[i].RawDiff - lo) / span
		}
	}
	return true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
