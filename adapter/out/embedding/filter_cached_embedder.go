package embedding

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"spamfilter/core/port/out"
	"spamfilter/pkg/logger"
)

var _ out.Embedder = (*CachedEmbedder)(nil)

// CachedEmbedder memoizes another embedder. Cache failures are logged and
// never fail the request.
type CachedEmbedder struct {
	inner out.Embedder
	cache out.EmbeddingCache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedEmbedder wraps inner with cache.
func NewCachedEmbedder(inner out.Embedder, cache out.EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.WithField("component", "embedding_cache"),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.get(ctx, "q", text, c.inner.Embed)
}

func (c *CachedEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return c.get(ctx, "p", text, c.inner.EmbedPassage)
}

func (c *CachedEmbedder) Dimension() int    { return c.inner.Dimension() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

func (c *CachedEmbedder) key(form, text string) string {
	d := xxhash.New()
	_, _ = d.WriteString(c.inner.ModelName())
	_, _ = d.WriteString("|" + form + "|")
	_, _ = d.WriteString(text)
	return strconv.FormatUint(d.Sum64(), 16)
}

func (c *CachedEmbedder) get(ctx context.Context, form, text string, compute func(context.Context, string) ([]float32, error)) ([]float32, error) {
	key := c.key(form, text)
	if vec, ok, err := c.cache.GetVector(ctx, key); err != nil {
		c.log.WithError(err).Debug("cache get failed")
	} else if ok && len(vec) == c.inner.Dimension() {
		return vec, nil
	}

	vec, err := compute(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetVector(ctx, key, vec, c.ttl); err != nil {
		c.log.WithError(err).Debug("cache set failed")
	}
	return vec, nil
}
