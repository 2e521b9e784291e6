package out

import (
	"context"

	"spamfilter/core/domain"
)

// =============================================================================
// Training Outputs
// =============================================================================

// WritableIndex is an index the trainer can fill and then query.
type WritableIndex interface {
	VectorIndex
	IndexWriter
}

// ArtifactSink persists training artifacts for the serving process.
type ArtifactSink interface {
	SaveModel(ctx context.Context, m *domain.TrainedModel) error
	SaveModelConfig(ctx context.Context, cfg *domain.ModelConfig) error
}

// RecordPublisher replaces the reference metadata in a remote store.
type RecordPublisher interface {
	ReplaceRecords(ctx context.Context, records []domain.Record) error
}

// RunRecorder keeps training-run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.TrainingRun) error
}
