package classification

import (
	"context"
	"errors"
	"fmt"

	"spamfilter/core/domain"
	"spamfilter/core/port/out"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/metrics"
)

// Corpus binds the vector index to its neighbor metadata and label set.
type Corpus struct {
	Index    out.VectorIndex
	Metadata out.MetadataStore
	Labels   *domain.LabelSet
	Latency  *metrics.LatencyRegistry
}

// Validate fails when any part is missing or the index and metadata disagree on size.
func (c *Corpus) Validate() error {
	switch {
	case c == nil || c.Index == nil:
		return apperr.ResourceNotLoaded("vector index")
	case c.Metadata == nil:
		return apperr.ResourceNotLoaded("neighbor metadata")
	case c.Labels == nil:
		return apperr.ResourceNotLoaded("label set")
	}
	if c.Index.Size() == 0 {
		return apperr.ResourceNotLoaded("vector index")
	}
	if c.Index.Size() != c.Metadata.Len() {
		return apperr.ConfigError(fmt.Sprintf("index holds %d vectors but metadata has %d records", c.Index.Size(), c.Metadata.Len()))
	}
	return nil
}

// Search returns the top-k neighbors of vec with their labels resolved.
func (c *Corpus) Search(ctx context.Context, vec []float32, k int) ([]domain.Neighbor, error) {
	done := c.Latency.Observe(metrics.StageSearch)
	hits, err := c.Index.Search(ctx, vec, k)
	done()
	if err != nil {
		return nil, upstreamError(ctx, "vector index", err)
	}

	neighbors := make([]domain.Neighbor, 0, len(hits))
	for _, h := range hits {
		name, text, ok := c.Metadata.Get(h.ID)
		if !ok {
			return nil, apperr.Internal(fmt.Sprintf("no metadata for index id %d", h.ID))
		}
		label, ok := c.Labels.Lookup(name)
		if !ok {
			return nil, apperr.Internal(fmt.Sprintf("index id %d has unknown label %q", h.ID, name))
		}
		neighbors = append(neighbors, domain.Neighbor{
			ID:         h.ID,
			Label:      label,
			Text:       text,
			Similarity: h.Score,
		})
	}
	return neighbors, nil
}

// upstreamError keeps context errors intact and wraps everything else.
func upstreamError(ctx context.Context, service string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || apperr.IsAppError(err) {
		return err
	}
	return apperr.ExternalError(service, err)
}
