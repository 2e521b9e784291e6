package out

import "context"

// =============================================================================
// Vector Similarity Index (flat / pgvector / Qdrant / Neo4j)
// =============================================================================

// Hit is one nearest-neighbor result. ID is the insertion position.
type Hit struct {
	ID    int
	Score float64
}

// VectorIndex answers top-k inner-product queries, descending by score.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Size() int
}

// IndexWriter replaces the stored vectors. IDs are slice positions.
type IndexWriter interface {
	Replace(ctx context.Context, vectors [][]float32) error
}

// =============================================================================
// Neighbor Metadata Store (file / Postgres / MongoDB)
// =============================================================================

// MetadataStore resolves an index id to its label and text.
type MetadataStore interface {
	Get(id int) (label, text string, ok bool)
	Len() int
}
