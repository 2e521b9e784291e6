package index

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"spamfilter/core/port/out"
	"spamfilter/pkg/resilience"
)

var (
	_ out.VectorIndex = (*Neo4jIndex)(nil)
	_ out.IndexWriter = (*Neo4jIndex)(nil)
)

// Neo4jIndex stores reference vectors on (:Reference {pos, embedding}) nodes
// behind a cosine vector index. Neo4j reports cosine scores as (1+cos)/2;
// Search maps them back to cos, which equals the inner product for
// normalized vectors.
type Neo4jIndex struct {
	driver    neo4j.DriverWithContext
	indexName string
	dim       int
	size      atomic.Int64
	cb        *resilience.Breaker
}

// NewNeo4jIndex ensures the vector index exists and caches the node count.
func NewNeo4jIndex(ctx context.Context, driver neo4j.DriverWithContext, indexName string, dim int) (*Neo4jIndex, error) {
	if !identPattern.MatchString(indexName) {
		return nil, fmt.Errorf("invalid index name %q", indexName)
	}
	n := &Neo4jIndex{
		driver:    driver,
		indexName: indexName,
		dim:       dim,
		cb:        resilience.NewBreaker(resilience.DefaultBreakerConfig("neo4j")),
	}
	if err := n.ensureIndex(ctx); err != nil {
		return nil, err
	}
	if err := n.Refresh(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Neo4jIndex) session(ctx context.Context) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (n *Neo4jIndex) ensureIndex(ctx context.Context) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	queries := []string{
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS "+
			"FOR (r:Reference) ON (r.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			n.indexName, n.dim),
		`CREATE CONSTRAINT reference_pos IF NOT EXISTS FOR (r:Reference) REQUIRE r.pos IS UNIQUE`,
	}
	for _, q := range queries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Refresh reloads the cached node count.
func (n *Neo4jIndex) Refresh(ctx context.Context) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (r:Reference) RETURN count(r) AS n`, nil)
	if err != nil {
		return fmt.Errorf("count references: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("count references: %w", err)
	}
	count, _ := record.Get("n")
	c, _ := count.(int64)
	n.size.Store(c)
	return nil
}

func (n *Neo4jIndex) Size() int { return int(n.size.Load()) }

func (n *Neo4jIndex) Search(ctx context.Context, vector []float32, k int) ([]out.Hit, error) {
	if len(vector) != n.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), n.dim)
	}
	query := `
		CALL db.index.vector.queryNodes($index, $topK, $embedding)
		YIELD node, score
		RETURN node.pos AS pos, score
		ORDER BY score DESC, pos ASC
	`
	params := map[string]interface{}{
		"index":     n.indexName,
		"topK":      k,
		"embedding": vector,
	}

	return resilience.Execute(n.cb, func() ([]out.Hit, error) {
		session := n.session(ctx)
		defer session.Close(ctx)

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return nil, fmt.Errorf("failed to search vectors: %w", err)
		}
		hits := make([]out.Hit, 0, k)
		for result.Next(ctx) {
			record := result.Record()
			pos, _ := record.Get("pos")
			score, _ := record.Get("score")
			hit, err := neo4jHit(pos, score)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
		return hits, result.Err()
	})
}

// neo4jHit converts a result row. The vector index reports (1+cos)/2.
func neo4jHit(pos, score any) (out.Hit, error) {
	p, ok := pos.(int64)
	if !ok {
		return out.Hit{}, errors.New("reference node without pos")
	}
	s, ok := score.(float64)
	if !ok {
		return out.Hit{}, fmt.Errorf("reference node %d without score", p)
	}
	return out.Hit{ID: int(p), Score: 2*s - 1}, nil
}

// Replace deletes every reference node and writes vectors in batches.
func (n *Neo4jIndex) Replace(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors to index")
	}
	session := n.session(ctx)
	defer session.Close(ctx)

	if err := runWrite(ctx, session, `MATCH (r:Reference) DETACH DELETE r`, nil); err != nil {
		return fmt.Errorf("failed to clear references: %w", err)
	}

	query := `
		UNWIND $items AS item
		CREATE (r:Reference {pos: item.pos})
		SET r.embedding = item.embedding
	`
	const chunk = 500
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		items := make([]map[string]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, map[string]interface{}{"pos": i, "embedding": vectors[i]})
		}
		if err := runWrite(ctx, session, query, map[string]interface{}{"items": items}); err != nil {
			return fmt.Errorf("failed to batch store vectors: %w", err)
		}
	}
	n.size.Store(int64(len(vectors)))
	return nil
}

// runWrite runs an auto-commit query and waits for its summary so write
// errors surface here.
func runWrite(ctx context.Context, session neo4j.SessionWithContext, query string, params map[string]interface{}) error {
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
