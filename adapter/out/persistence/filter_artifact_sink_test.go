package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"spamfilter/adapter/out/index"
	"spamfilter/core/domain"
)

func testPaths(dir string) ArtifactPaths {
	return ArtifactPaths{
		Index:        filepath.Join(dir, "vector_index.bin"),
		Metadata:     filepath.Join(dir, "train_metadata.json"),
		ClassWeights: filepath.Join(dir, "class_weights.json"),
		ModelConfig:  filepath.Join(dir, "model_config.json"),
	}
}

func TestFileArtifactSink_SaveModel(t *testing.T) {
	paths := testPaths(filepath.Join(t.TempDir(), "artifacts"))
	sink := NewFileArtifactSink(paths)

	alpha := 0.3
	model := &domain.TrainedModel{
		Vectors: [][]float32{{1, 0}, {0, 1}},
		Records: []domain.Record{
			{ID: 0, Message: "lunch?", Label: "ham"},
			{ID: 1, Message: "free prize", Label: "spam"},
		},
		ClassWeights: map[string]float64{"ham": 1, "spam": 1},
		Config: domain.ModelConfig{
			ModelName:    "hash-xxh64",
			BestAlpha:    &alpha,
			EmbeddingDim: 2,
			TrainedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	if err := sink.SaveModel(context.Background(), model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}

	idx, err := index.LoadFlatIndex(paths.Index)
	if err != nil {
		t.Fatalf("LoadFlatIndex() error = %v", err)
	}
	if idx.Size() != 2 || idx.Dimension() != 2 {
		t.Errorf("index size=%d dim=%d", idx.Size(), idx.Dimension())
	}

	store := NewArtifactStore()
	meta, err := store.LoadMetadata(paths.Metadata)
	if err != nil || meta.Len() != 2 {
		t.Fatalf("LoadMetadata() = %v, %v", meta, err)
	}
	weights, err := store.LoadClassWeights(paths.ClassWeights)
	if err != nil || weights["spam"] != 1 {
		t.Fatalf("LoadClassWeights() = %v, %v", weights, err)
	}
	cfg, err := store.LoadModelConfig(paths.ModelConfig)
	if err != nil || cfg == nil {
		t.Fatalf("LoadModelConfig() = %v, %v", cfg, err)
	}
	if cfg.BestAlpha == nil || *cfg.BestAlpha != 0.3 {
		t.Errorf("best_alpha = %v", cfg.BestAlpha)
	}
}

func TestFileArtifactSink_Rejects(t *testing.T) {
	sink := NewFileArtifactSink(testPaths(t.TempDir()))
	tests := []struct {
		name  string
		model *domain.TrainedModel
	}{
		{"empty", &domain.TrainedModel{}},
		{"misaligned", &domain.TrainedModel{
			Vectors: [][]float32{{1}},
			Records: []domain.Record{{ID: 0}, {ID: 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sink.SaveModel(context.Background(), tt.model); err == nil {
				t.Error("expected error")
			}
		})
	}
}
