package domain

import "time"

// Subcategory refines a spam verdict.
type Subcategory string

const (
	SubcategoryPromotional             Subcategory = "spam_quangcao"
	SubcategorySystemSocialEngineering Subcategory = "spam_hethong"
	SubcategoryOther                   Subcategory = "spam_khac"
)

// Record is one reference sample in the neighbor metadata store.
// ID matches the vector's insertion position in the index.
type Record struct {
	ID      int    `json:"index" bson:"_id" db:"id"`
	Message string `json:"message" bson:"message" db:"message"`
	Label   string `json:"label" bson:"label" db:"label"`
}

// Neighbor is a resolved search hit.
type Neighbor struct {
	ID         int
	Label      Label
	Text       string
	Similarity float64
	Weight     float64
}

// Classification is the result of one weighted vote.
type Classification struct {
	Prediction     Label
	Confidence     float64
	VoteScores     VoteTally
	Neighbors      []Neighbor
	SaliencyWeight float64
	AlphaUsed      float64
	// Degenerate is set when the vote-score sum was not positive; Confidence is then 0.
	Degenerate bool
}

// TokenSaliency is one token's occlusion attribution.
type TokenSaliency struct {
	Token    string  `json:"token"`
	RawDiff  float64 `json:"raw_diff"`
	Saliency float64 `json:"saliency"`
	Skipped  bool    `json:"skipped,omitempty"`
}

// AlphaResult is one grid point of the calibration.
type AlphaResult struct {
	Alpha    float64 `json:"alpha"`
	Accuracy float64 `json:"accuracy"`
}

// Calibration is the full grid search outcome.
type Calibration struct {
	BestAlpha    float64       `json:"best_alpha"`
	BestAccuracy float64       `json:"best_accuracy"`
	Results      []AlphaResult `json:"alpha_results"`
}

// ModelConfig is the persisted run configuration read at serving time.
type ModelConfig struct {
	RunID         string        `json:"run_id,omitempty"`
	ModelName     string        `json:"model_name"`
	BestAlpha     *float64      `json:"best_alpha,omitempty"`
	AlphaResults  []AlphaResult `json:"alpha_results,omitempty"`
	CalibrationK  int           `json:"calibration_k,omitempty"`
	TrainSamples  int           `json:"train_samples"`
	TestSamples   int           `json:"test_samples"`
	EmbeddingDim  int           `json:"embedding_dim"`
	Labels        []string      `json:"labels,omitempty"`
	PositiveLabel string        `json:"positive_label,omitempty"`
	TrainedAt     time.Time     `json:"trained_at"`
}

// Sample is a labeled message used for training and calibration.
type Sample struct {
	Message string
	Label   Label
}

// ExplainReport is the human-oriented explanation of one prediction.
type ExplainReport struct {
	Classification *Classification
	Tokens         []TokenSaliency
	SpamIndicators []string
	HamIndicators  []string
	Analysis       string
}
