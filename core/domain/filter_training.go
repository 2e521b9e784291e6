package domain

import "time"

// TrainingRun is the history record of one training or calibration run.
type TrainingRun struct {
	ID           string    `json:"id" db:"id"`
	Mode         string    `json:"mode" db:"mode"`
	ModelName    string    `json:"model_name" db:"model_name"`
	TrainSamples int       `json:"train_samples" db:"train_samples"`
	TestSamples  int       `json:"test_samples" db:"test_samples"`
	BestAlpha    float64   `json:"best_alpha" db:"best_alpha"`
	BestAccuracy float64   `json:"best_accuracy" db:"best_accuracy"`
	IndexBackend string    `json:"index_backend" db:"index_backend"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
}

// TrainedModel is everything a training run persists. Records[i] describes
// Vectors[i].
type TrainedModel struct {
	Vectors      [][]float32
	Records      []Record
	ClassWeights map[string]float64
	Config       ModelConfig
}
