package index

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"spamfilter/core/port/out"
	"spamfilter/pkg/resilience"
)

var (
	_ out.VectorIndex = (*PGVectorIndex)(nil)
	_ out.IndexWriter = (*PGVectorIndex)(nil)
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGVectorIndex stores reference vectors in a Postgres table with a pgvector
// column and ranks by inner product (<#> is the negated inner product).
type PGVectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dim   int
	size  atomic.Int64
	cb    *resilience.Breaker
}

// NewPGVectorIndex opens the table and caches its row count.
func NewPGVectorIndex(ctx context.Context, pool *pgxpool.Pool, table string, dim int) (*PGVectorIndex, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	idx := &PGVectorIndex{
		pool:  pool,
		table: table,
		dim:   dim,
		cb:    resilience.NewBreaker(resilience.DefaultBreakerConfig("pgvector")),
	}
	if err := idx.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := idx.Refresh(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *PGVectorIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, p.table, p.dim),
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("pgvector schema: %w", err)
		}
	}
	return nil
}

// Refresh reloads the cached row count.
func (p *PGVectorIndex) Refresh(ctx context.Context) error {
	var n int64
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return fmt.Errorf("count %s: %w", p.table, err)
	}
	p.size.Store(n)
	return nil
}

func (p *PGVectorIndex) Size() int { return int(p.size.Load()) }

func (p *PGVectorIndex) Search(ctx context.Context, vector []float32, k int) ([]out.Hit, error) {
	if len(vector) != p.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), p.dim)
	}
	query := fmt.Sprintf(
		`SELECT id, (embedding <#> $1) * -1 AS score FROM %s ORDER BY embedding <#> $1, id LIMIT $2`,
		p.table)

	return resilience.Execute(p.cb, func() ([]out.Hit, error) {
		rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), k)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		hits := make([]out.Hit, 0, k)
		for rows.Next() {
			var h out.Hit
			if err := rows.Scan(&h.ID, &h.Score); err != nil {
				return nil, err
			}
			hits = append(hits, h)
		}
		return hits, rows.Err()
	})
}

// Replace truncates the table and inserts vectors with their positions as ids.
func (p *PGVectorIndex) Replace(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors to index")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, p.table)); err != nil {
		return fmt.Errorf("truncate %s: %w", p.table, err)
	}

	const chunk = 500
	insert := fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES ($1, $2)`, p.table)
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			if len(vectors[i]) != p.dim {
				return fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), p.dim)
			}
			batch.Queue(insert, i, pgvector.NewVector(vectors[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert vectors: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.size.Store(int64(len(vectors)))
	return nil
}
