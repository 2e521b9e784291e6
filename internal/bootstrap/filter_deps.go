package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"spamfilter/adapter/out/embedding"
	"spamfilter/adapter/out/index"
	"spamfilter/adapter/out/persistence"
	"spamfilter/config"
	"spamfilter/core/domain"
	"spamfilter/core/port/out"
	"spamfilter/core/service/classification"
	"spamfilter/infra/database"
	"spamfilter/pkg/cache"
	"spamfilter/pkg/logger"
	"spamfilter/pkg/metrics"
	"spamfilter/pkg/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	connectTimeout    = 15 * time.Second
	latencyWindowSize = 1000
)

// Dependencies holds every connection and loaded artifact. Optional
// backends are nil when not configured.
type Dependencies struct {
	Config *config.Config

	// Connections
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Mongo  *mongo.Client
	Neo4j  neo4j.DriverWithContext
	Pools  *metrics.PoolMonitor
	Qdrant *index.QdrantIndex

	// Embedding
	Provider out.TokenizingEmbedder
	Embedder out.Embedder
	Cache    *cache.VectorCache

	// Loaded state
	Labels     *domain.LabelSet
	Corpus     *classification.Corpus
	Weights    domain.ClassWeights
	Model      *domain.ModelConfig
	Heuristics *classification.Heuristics
	Latency    *metrics.LatencyRegistry

	Classifier *classification.Service
}

// cleanupStack closes resources in reverse order of acquisition.
type cleanupStack []func()

func (s *cleanupStack) push(fn func()) { *s = append(*s, fn) }

func (s cleanupStack) run() {
	for i := len(s) - 1; i >= 0; i-- {
		s[i]()
	}
}

// NewConnections opens the configured external backends. Postgres, Mongo and
// Neo4j are required when a backend selects them; Redis is always optional.
func NewConnections(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:  cfg,
		Pools:   metrics.NewPoolMonitor(),
		Latency: metrics.NewLatencyRegistry(latencyWindowSize),
	}
	var cleanups cleanupStack
	fail := func(err error) (*Dependencies, func(), error) {
		cleanups.run()
		return nil, nil, err
	}

	labels, err := domain.NewLabelSet(cfg.Labels, cfg.PositiveLabel)
	if err != nil {
		return fail(err)
	}
	deps.Labels = labels

	needsPostgres := cfg.IndexBackend == "pgvector" || cfg.MetadataBackend == "postgres"
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
		if err != nil {
			if needsPostgres {
				return fail(fmt.Errorf("postgres: %w", err))
			}
			logger.Warn("Postgres connection failed: %v", err)
		} else {
			deps.DB = pool
			cleanups.push(pool.Close)
			deps.Pools.Register("postgres", pgxStats(pool))

			sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
			if err != nil {
				return fail(fmt.Errorf("postgres (sqlx): %w", err))
			}
			deps.SQLDB = sqlDB
			cleanups.push(func() { sqlDB.Close() })
			deps.Pools.Register("postgres_sqlx", metrics.SQLStats(sqlDB.DB))
		}
	} else if needsPostgres {
		return fail(fmt.Errorf("DATABASE_URL is required for index backend %q and metadata backend %q", cfg.IndexBackend, cfg.MetadataBackend))
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			logger.Warn("Redis connection failed, embedding cache is process-local: %v", err)
		} else {
			deps.Redis = client
			cleanups.push(func() { client.Close() })
		}
	}

	if cfg.MetadataBackend == "mongo" {
		client, err := database.NewMongo(ctx, cfg.MongoDBURI)
		if err != nil {
			return fail(fmt.Errorf("mongodb: %w", err))
		}
		deps.Mongo = client
		cleanups.push(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		})
	}

	if cfg.IndexBackend == "neo4j" {
		driver, err := database.NewNeo4j(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return fail(fmt.Errorf("neo4j: %w", err))
		}
		deps.Neo4j = driver
		cleanups.push(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			driver.Close(ctx)
		})
	}

	provider, err := embedding.New(embeddingConfig(cfg))
	if err != nil {
		return fail(fmt.Errorf("embedding provider: %w", err))
	}
	if cfg.EmbeddingProvider == "openai" {
		provider = embedding.NewThrottledEmbedder(provider, ratelimit.NewThrottle(deps.Redis, &ratelimit.Config{
			MaxConcurrent:     cfg.EmbedMaxConcurrent,
			RequestsPerSecond: cfg.EmbedRequestsPerSec,
			BurstSize:         cfg.EmbedRequestsPerSec / 5,
			MaxWait:           5 * time.Second,
		}))
	}
	deps.Provider = provider
	if closer, ok := provider.(io.Closer); ok {
		cleanups.push(func() { closer.Close() })
	}

	deps.Cache = cache.NewVectorCache(cache.L1SizeFor(cfg.EmbedCacheSize, cfg.EmbeddingDim), deps.Redis, "")
	deps.Embedder = embedding.NewCachedEmbedder(provider, deps.Cache, cfg.EmbedCacheTTL)

	return deps, cleanups.run, nil
}

// NewDependencies opens connections and loads every serving artifact. Any
// missing or inconsistent artifact aborts startup.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	deps, cleanup, err := NewConnections(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store := persistence.NewArtifactStore()

	model, err := store.LoadModelConfig(cfg.ModelConfigPath())
	if err != nil {
		return fail(fmt.Errorf("model config: %w", err))
	}
	deps.Model = model

	vectorIndex, closeIndex, err := openIndex(ctx, deps)
	if err != nil {
		return fail(fmt.Errorf("vector index (%s): %w", cfg.IndexBackend, err))
	}
	if closeIndex != nil {
		prev := cleanup
		cleanup = func() { closeIndex(); prev() }
	}

	metadata, err := openMetadata(ctx, deps, store)
	if err != nil {
		return fail(fmt.Errorf("metadata (%s): %w", cfg.MetadataBackend, err))
	}

	rawWeights, err := store.LoadClassWeights(cfg.ClassWeightsPath())
	if err != nil {
		return fail(fmt.Errorf("class weights: %w", err))
	}
	weights, err := domain.ClassWeightsFromMap(deps.Labels, rawWeights)
	if err != nil {
		return fail(fmt.Errorf("class weights: %w", err))
	}
	deps.Weights = weights

	heuristics, err := loadHeuristics(cfg.LexiconFile)
	if err != nil {
		return fail(err)
	}
	deps.Heuristics = heuristics

	deps.Corpus = &classification.Corpus{
		Index:    vectorIndex,
		Metadata: metadata,
		Labels:   deps.Labels,
		Latency:  deps.Latency,
	}

	svc, err := classification.NewService(deps.Embedder, deps.Provider, deps.Corpus, deps.Weights, deps.Heuristics, classification.ServiceConfig{
		DefaultAlpha:       cfg.DefaultAlpha,
		ExplainConcurrency: cfg.ExplainConcurrency,
		ModelConfig:        deps.Model,
		IndexBackend:       cfg.IndexBackend,
		MetadataBackend:    cfg.MetadataBackend,
	})
	if err != nil {
		return fail(err)
	}
	deps.Classifier = svc

	logger.WithFields(map[string]any{
		"index":    cfg.IndexBackend,
		"metadata": cfg.MetadataBackend,
		"provider": cfg.EmbeddingProvider,
		"size":     vectorIndex.Size(),
	}).Info("Dependencies loaded")

	return deps, func() { svc.Close(); cleanup() }, nil
}

// openIndex returns the serving index and an optional close func.
func openIndex(ctx context.Context, deps *Dependencies) (out.VectorIndex, func(), error) {
	cfg := deps.Config
	switch cfg.IndexBackend {
	case "flat":
		idx, err := index.LoadFlatIndex(cfg.IndexPath())
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	case "pgvector":
		idx, err := index.NewPGVectorIndex(ctx, deps.DB, cfg.PGVectorTable, cfg.EmbeddingDim)
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	case "qdrant":
		idx, err := newQdrant(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		deps.Qdrant = idx
		return idx, func() { idx.Close() }, nil
	case "neo4j":
		idx, err := index.NewNeo4jIndex(ctx, deps.Neo4j, cfg.Neo4jIndex, cfg.EmbeddingDim)
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

func openMetadata(ctx context.Context, deps *Dependencies, store *persistence.ArtifactStore) (out.MetadataStore, error) {
	cfg := deps.Config
	switch cfg.MetadataBackend {
	case "file":
		return store.LoadMetadata(cfg.MetadataPath())
	case "postgres":
		pg, err := persistence.NewPostgresStore(ctx, deps.SQLDB)
		if err != nil {
			return nil, err
		}
		return pg.LoadRecords(ctx)
	case "mongo":
		return persistence.NewMongoStore(deps.Mongo, cfg.MongoDBName).LoadRecords(ctx)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
	}
}

func newQdrant(ctx context.Context, cfg *config.Config) (*index.QdrantIndex, error) {
	return index.NewQdrantIndex(ctx, index.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		Collection: cfg.QdrantCollection,
		Dimension:  cfg.EmbeddingDim,
	})
}

func loadHeuristics(path string) (*classification.Heuristics, error) {
	if path == "" {
		return classification.MustDefaultHeuristics(), nil
	}
	lex, err := classification.LoadLexicon(path)
	if err != nil {
		return nil, err
	}
	h, err := lex.Compile()
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	logger.Info("Loaded lexicon %s (version %s)", path, h.Version())
	return h, nil
}

func embeddingConfig(cfg *config.Config) embedding.Config {
	model := cfg.ModelName
	if cfg.EmbeddingProvider == "openai" {
		model = cfg.OpenAIEmbeddingModel
	}
	return embedding.Config{
		Provider:      cfg.EmbeddingProvider,
		ModelName:     model,
		Dimension:     cfg.EmbeddingDim,
		QueryPrefix:   cfg.QueryPrefix,
		PassagePrefix: cfg.PassagePrefix,
		MaskToken:     cfg.MaskToken,
		LibraryPath:   cfg.ONNXLibraryPath,
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.TokenizerPath,
		MaxSeqLen:     cfg.MaxSequenceLength,
		APIKey:        cfg.OpenAIAPIKey,
	}
}

func pgxStats(pool *pgxpool.Pool) metrics.StatsFunc {
	return func() metrics.PoolStats {
		s := database.GetPoolStats(pool)
		return metrics.PoolStats{
			Open:      int(s.TotalConns),
			InUse:     int(s.AcquiredConns),
			Idle:      int(s.IdleConns),
			Max:       int(s.MaxConns),
			WaitCount: s.AcquireCount,
		}
	}
}
