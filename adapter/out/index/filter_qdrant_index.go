package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"spamfilter/core/port/out"
	"spamfilter/pkg/logger"
	"spamfilter/pkg/resilience"
)

var (
	_ out.VectorIndex = (*QdrantIndex)(nil)
	_ out.IndexWriter = (*QdrantIndex)(nil)
)

// QdrantConfig addresses one collection.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantIndex searches a Qdrant collection with dot-product distance.
// Point ids are the reference positions.
type QdrantIndex struct {
	client      *qdrant.Client
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	cfg         QdrantConfig
	size        atomic.Int64
	cb          *resilience.Breaker
	log         *logger.Logger
}

// NewQdrantIndex connects over gRPC and reads the collection size. A missing
// collection is reported as size 0.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithInsecure(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	q := &QdrantIndex{
		client:      client,
		points:      qdrant.NewPointsClient(client.GetConnection()),
		collections: qdrant.NewCollectionsClient(client.GetConnection()),
		cfg:         cfg,
		cb:          resilience.NewBreaker(resilience.DefaultBreakerConfig("qdrant")),
		log:         logger.WithField("component", "qdrant_index").WithField("collection", cfg.Collection),
	}
	if err := q.Refresh(ctx); err != nil {
		q.log.WithError(err).Warn("collection info unavailable")
	}
	return q, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// Refresh reloads the cached point count.
func (q *QdrantIndex) Refresh(ctx context.Context) error {
	resp, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: q.cfg.Collection})
	if err != nil {
		q.size.Store(0)
		return err
	}
	if resp.GetResult().PointsCount != nil {
		q.size.Store(int64(*resp.GetResult().PointsCount))
	}
	return nil
}

func (q *QdrantIndex) Size() int { return int(q.size.Load()) }

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]out.Hit, error) {
	if len(vector) != q.cfg.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), q.cfg.Dimension)
	}
	return resilience.Execute(q.cb, func() ([]out.Hit, error) {
		resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
			CollectionName: q.cfg.Collection,
			Vector:         vector,
			Limit:          uint64(k),
		})
		if err != nil {
			return nil, err
		}
		hits := make([]out.Hit, 0, len(resp.GetResult()))
		for _, p := range resp.GetResult() {
			hits = append(hits, out.Hit{ID: int(p.GetId().GetNum()), Score: float64(p.GetScore())})
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].ID < hits[j].ID
		})
		return hits, nil
	})
}

// Replace recreates the collection and upserts every vector.
func (q *QdrantIndex) Replace(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors to index")
	}
	if _, err := q.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: q.cfg.Collection}); err != nil {
		q.log.WithError(err).Debug("delete collection")
	}
	_, err := q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{
			Params: &qdrant.VectorParams{
				Size:     uint64(q.cfg.Dimension),
				Distance: qdrant.Distance_Dot,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.cfg.Collection, err)
	}

	wait := true
	const chunk = 256
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(i)}},
				Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}}},
			})
		}
		if _, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.Collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}
	q.size.Store(int64(len(vectors)))
	q.log.Info("published %d vectors", len(vectors))
	return nil
}
