package persistence

import (
	"context"
	"fmt"

	"spamfilter/adapter/out/index"
	"spamfilter/core/domain"
	"spamfilter/core/port/out"
)

var _ out.ArtifactSink = (*FileArtifactSink)(nil)

// ArtifactPaths names the four files a training run produces.
type ArtifactPaths struct {
	Index        string
	Metadata     string
	ClassWeights string
	ModelConfig  string
}

// FileArtifactSink writes training artifacts to the local artifact
// directory. The model config is written last so a serving process never
// sees a best_alpha without its index.
type FileArtifactSink struct {
	paths ArtifactPaths
	store *ArtifactStore
}

// NewFileArtifactSink creates a sink for paths.
func NewFileArtifactSink(paths ArtifactPaths) *FileArtifactSink {
	return &FileArtifactSink{paths: paths, store: NewArtifactStore()}
}

func (s *FileArtifactSink) SaveModel(ctx context.Context, m *domain.TrainedModel) error {
	if len(m.Vectors) == 0 {
		return fmt.Errorf("trained model has no vectors")
	}
	if len(m.Vectors) != len(m.Records) {
		return fmt.Errorf("trained model has %d vectors but %d records", len(m.Vectors), len(m.Records))
	}

	flat := index.NewFlatIndex(len(m.Vectors[0]))
	if err := flat.Replace(ctx, m.Vectors); err != nil {
		return err
	}
	if err := flat.Save(s.paths.Index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := s.store.SaveMetadata(s.paths.Metadata, m.Records); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := s.store.SaveClassWeights(s.paths.ClassWeights, m.ClassWeights); err != nil {
		return fmt.Errorf("write class weights: %w", err)
	}
	return s.SaveModelConfig(ctx, &m.Config)
}

func (s *FileArtifactSink) SaveModelConfig(_ context.Context, cfg *domain.ModelConfig) error {
	if err := s.store.SaveModelConfig(s.paths.ModelConfig, cfg); err != nil {
		return fmt.Errorf("write model config: %w", err)
	}
	return nil
}
