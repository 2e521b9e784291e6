package out

import (
	"context"
	"time"
)

// EmbeddingCache stores encoded vectors by key.
// A miss returns (nil, false, nil).
type EmbeddingCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool, error)
	SetVector(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}
