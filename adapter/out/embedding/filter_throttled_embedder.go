package embedding

import (
	"context"

	"spamfilter/core/port/out"
	"spamfilter/pkg/ratelimit"
)

var _ out.TokenizingEmbedder = (*ThrottledEmbedder)(nil)

// ThrottledEmbedder routes every upstream call through a throttle keyed by
// model name. Tokenization is local and unthrottled.
type ThrottledEmbedder struct {
	out.TokenizingEmbedder
	throttle *ratelimit.Throttle
}

// NewThrottledEmbedder wraps inner with throttle.
func NewThrottledEmbedder(inner out.TokenizingEmbedder, throttle *ratelimit.Throttle) *ThrottledEmbedder {
	return &ThrottledEmbedder{TokenizingEmbedder: inner, throttle: throttle}
}

func (t *ThrottledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return t.call(ctx, text, t.TokenizingEmbedder.Embed)
}

func (t *ThrottledEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return t.call(ctx, text, t.TokenizingEmbedder.EmbedPassage)
}

func (t *ThrottledEmbedder) call(ctx context.Context, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	release, err := t.throttle.Acquire(ctx, "embed:"+t.ModelName())
	if err != nil {
		return nil, err
	}
	defer release()
	return fn(ctx, text)
}

// Close closes the wrapped provider when it holds resources.
func (t *ThrottledEmbedder) Close() error {
	if c, ok := t.TokenizingEmbedder.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
