package in

import (
	"context"

	"spamfilter/core/domain"
)

// ClassifierService is the driving port used by the HTTP adapter.
type ClassifierService interface {
	Classify(ctx context.Context, text string, k int, alpha *float64) (*domain.Classification, error)
	ExplainTokens(ctx context.Context, text string, k int) ([]domain.TokenSaliency, error)
	Explain(ctx context.Context, text string, k int) (*domain.ExplainReport, error)
	Subcategory(text string) domain.Subcategory
	Stats() *Stats
	Ready() bool
	Labels() *domain.LabelSet
}

// Stats describes the loaded reference corpus and model.
type Stats struct {
	TotalSamples      int                  `json:"total_samples"`
	LabelDistribution map[string]int       `json:"label_distribution"`
	ClassWeights      map[string]float64   `json:"class_weights"`
	ModelName         string               `json:"model_name"`
	BestAlpha         float64              `json:"best_alpha"`
	AlphaResults      []domain.AlphaResult `json:"alpha_results,omitempty"`
	IndexSize         int                  `json:"index_size"`
	IndexBackend      string               `json:"index_backend"`
	MetadataBackend   string               `json:"metadata_backend"`
	EmbeddingDim      int                  `json:"embedding_dim"`
}
