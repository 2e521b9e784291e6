package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	Version     string

	// Classification
	DefaultK           int
	DefaultAlpha       float64
	MaxK               int
	MaxExplainK        int
	DefaultExplainK    int
	MaxMessageLength   int
	MaxBatchSize       int
	ExplainConcurrency int
	BatchConcurrency   int

	// Labels
	Labels        []string
	PositiveLabel string

	// Artifacts
	ArtifactDir      string
	IndexFile        string
	MetadataFile     string
	ClassWeightsFile string
	ModelConfigFile  string
	LexiconFile      string

	// Embedding
	EmbeddingProvider    string
	ModelName            string
	ONNXLibraryPath      string
	ONNXModelPath        string
	TokenizerPath        string
	MaxSequenceLength    int
	EmbeddingDim         int
	QueryPrefix          string
	PassagePrefix        string
	MaskToken            string
	OpenAIAPIKey         string
	OpenAIEmbeddingModel string
	EmbedMaxConcurrent   int
	EmbedRequestsPerSec  int

	// Cache
	RedisURL       string
	EmbedCacheTTL  time.Duration
	EmbedCacheSize int

	// Index backend
	IndexBackend     string
	DatabaseURL      string
	PGVectorTable    string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jIndex       string

	// Metadata backend
	MetadataBackend string
	MongoDBURI      string
	MongoDBName     string

	// Auth / HTTP
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      int

	// Training
	DatasetPath           string
	DriveFileID           string
	GoogleCredentialsFile string
	TestSplit             float64
	SplitSeed             int64
	CalibrationK          int
	TrainWorkers          int
	PublishArtifacts      bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Version:     getEnv("APP_VERSION", "1.0.0"),

		// Classification
		DefaultK:           getEnvInt("DEFAULT_K", 5),
		DefaultAlpha:       getEnvFloat("DEFAULT_ALPHA", 0.8),
		MaxK:               getEnvInt("MAX_K", 20),
		MaxExplainK:        getEnvInt("MAX_EXPLAIN_K", 50),
		DefaultExplainK:    getEnvInt("DEFAULT_EXPLAIN_K", 10),
		MaxMessageLength:   getEnvInt("MAX_MESSAGE_LENGTH", 10000),
		MaxBatchSize:       getEnvInt("MAX_BATCH_SIZE", 100),
		ExplainConcurrency: getEnvInt("EXPLAIN_CONCURRENCY", 1),
		BatchConcurrency:   getEnvInt("BATCH_CONCURRENCY", 8),

		// Labels
		Labels:        getEnvSlice("LABELS", []string{"ham", "spam"}),
		PositiveLabel: getEnv("POSITIVE_LABEL", "spam"),

		// Artifacts
		ArtifactDir:      getEnv("ARTIFACT_DIR", "artifacts"),
		IndexFile:        getEnv("INDEX_FILE", "vector_index.bin"),
		MetadataFile:     getEnv("METADATA_FILE", "train_metadata.json"),
		ClassWeightsFile: getEnv("CLASS_WEIGHTS_FILE", "class_weights.json"),
		ModelConfigFile:  getEnv("MODEL_CONFIG_FILE", "model_config.json"),
		LexiconFile:      getEnv("LEXICON_FILE", ""),

		// Embedding
		EmbeddingProvider:    getEnv("EMBEDDING_PROVIDER", "onnx"),
		ModelName:            getEnv("MODEL_NAME", "intfloat/multilingual-e5-base"),
		ONNXLibraryPath:      getEnv("ONNX_LIBRARY_PATH", ""),
		ONNXModelPath:        getEnv("ONNX_MODEL_PATH", "models/multilingual-e5-base/model.onnx"),
		TokenizerPath:        getEnv("TOKENIZER_PATH", "models/multilingual-e5-base/tokenizer.json"),
		MaxSequenceLength:    getEnvInt("MAX_SEQUENCE_LENGTH", 512),
		EmbeddingDim:         getEnvInt("EMBEDDING_DIM", 768),
		QueryPrefix:          getEnv("QUERY_PREFIX", "query: "),
		PassagePrefix:        getEnv("PASSAGE_PREFIX", "passage: "),
		MaskToken:            getEnv("MASK_TOKEN", "<pad>"),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-ada-002"),
		EmbedMaxConcurrent:   getEnvInt("EMBED_MAX_CONCURRENT", 8),
		EmbedRequestsPerSec:  getEnvInt("EMBED_RPS", 50),

		// Cache
		RedisURL:       getEnv("REDIS_URL", ""),
		EmbedCacheTTL:  getEnvDuration("EMBED_CACHE_TTL", 24*time.Hour),
		EmbedCacheSize: getEnvInt("EMBED_CACHE_SIZE", 4096),

		// Index backend
		IndexBackend:     getEnv("INDEX_BACKEND", "flat"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PGVectorTable:    getEnv("PGVECTOR_TABLE", "reference_vectors"),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "spamfilter_reference"),
		Neo4jURI:         getEnv("NEO4J_URI", ""),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", ""),
		Neo4jIndex:       getEnv("NEO4J_INDEX", "reference_embedding"),

		// Metadata backend
		MetadataBackend: getEnv("METADATA_BACKEND", "file"),
		MongoDBURI:      getEnv("MONGODB_URI", ""),
		MongoDBName:     getEnv("MONGODB_DATABASE", "spamfilter"),

		// Auth / HTTP
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:8000", "http://127.0.0.1:3000"}),
		RateLimit:      getEnvInt("RATE_LIMIT", 100),

		// Training
		DatasetPath:           getEnv("DATASET_PATH", ""),
		DriveFileID:           getEnv("DRIVE_FILE_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		TestSplit:             getEnvFloat("TEST_SPLIT", 0.2),
		SplitSeed:             int64(getEnvInt("SPLIT_SEED", 42)),
		CalibrationK:          getEnvInt("CALIBRATION_K", 10),
		TrainWorkers:          getEnvInt("TRAIN_WORKERS", 4),
		PublishArtifacts:      getEnvBool("PUBLISH_ARTIFACTS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks bounds that would otherwise surface as confusing runtime errors.
func (c *Config) Validate() error {
	if len(c.Labels) < 2 {
		return fmt.Errorf("LABELS must name at least two labels, got %d", len(c.Labels))
	}
	found := false
	for _, l := range c.Labels {
		if l == c.PositiveLabel {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("POSITIVE_LABEL %q is not in LABELS %v", c.PositiveLabel, c.Labels)
	}
	if c.DefaultAlpha < 0 || c.DefaultAlpha > 1 {
		return fmt.Errorf("DEFAULT_ALPHA must be within [0,1], got %v", c.DefaultAlpha)
	}
	if c.DefaultK < 1 || c.DefaultK > c.MaxK {
		return fmt.Errorf("DEFAULT_K must be within [1,%d], got %d", c.MaxK, c.DefaultK)
	}
	if c.DefaultExplainK < 1 || c.DefaultExplainK > c.MaxExplainK {
		return fmt.Errorf("DEFAULT_EXPLAIN_K must be within [1,%d], got %d", c.MaxExplainK, c.DefaultExplainK)
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		return fmt.Errorf("TEST_SPLIT must be within (0,1), got %v", c.TestSplit)
	}
	switch c.EmbeddingProvider {
	case "onnx", "openai", "hash":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	switch c.IndexBackend {
	case "flat", "pgvector", "qdrant", "neo4j":
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.IndexBackend)
	}
	switch c.MetadataBackend {
	case "file", "postgres", "mongo":
	default:
		return fmt.Errorf("unknown METADATA_BACKEND %q", c.MetadataBackend)
	}
	return nil
}

// Artifact paths
func (c *Config) IndexPath() string        { return filepath.Join(c.ArtifactDir, c.IndexFile) }
func (c *Config) MetadataPath() string     { return filepath.Join(c.ArtifactDir, c.MetadataFile) }
func (c *Config) ClassWeightsPath() string { return filepath.Join(c.ArtifactDir, c.ClassWeightsFile) }
func (c *Config) ModelConfigPath() string  { return filepath.Join(c.ArtifactDir, c.ModelConfigFile) }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
