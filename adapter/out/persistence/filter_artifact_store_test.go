package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spamfilter/core/domain"
)

func TestRecordStore(t *testing.T) {
	store, err := NewRecordStore([]domain.Record{
		{ID: 0, Message: "hello", Label: "ham"},
		{ID: 1, Message: "win now", Label: "spam"},
	})
	if err != nil {
		t.Fatalf("NewRecordStore() error = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d", store.Len())
	}
	label, text, ok := store.Get(1)
	if !ok || label != "spam" || text != "win now" {
		t.Errorf("Get(1) = %q %q %v", label, text, ok)
	}
	for _, id := range []int{-1, 2} {
		if _, _, ok := store.Get(id); ok {
			t.Errorf("Get(%d) should miss", id)
		}
	}

	if _, err := NewRecordStore([]domain.Record{{ID: 1}}); err == nil {
		t.Error("misaligned ids should fail")
	}
}

func TestArtifactStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewArtifactStore()

	t.Run("metadata", func(t *testing.T) {
		path := filepath.Join(dir, "meta.json")
		records := []domain.Record{{ID: 0, Message: "xin chào", Label: "ham"}}
		if err := s.SaveMetadata(path, records); err != nil {
			t.Fatalf("SaveMetadata() error = %v", err)
		}
		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), `"index": 0`) {
			t.Errorf("metadata should use the index key, got %s", data)
		}
		got, err := s.LoadMetadata(path)
		if err != nil {
			t.Fatalf("LoadMetadata() error = %v", err)
		}
		if got[0].Message != "xin chào" {
			t.Errorf("message = %q", got[0].Message)
		}
	})

	t.Run("empty metadata", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		_ = os.WriteFile(path, []byte("[]"), 0o644)
		if _, err := s.LoadMetadata(path); err == nil {
			t.Error("empty metadata should fail")
		}
	})

	t.Run("class weights", func(t *testing.T) {
		path := filepath.Join(dir, "weights.json")
		if err := s.SaveClassWeights(path, map[string]float64{"ham": 0.6, "spam": 3}); err != nil {
			t.Fatalf("SaveClassWeights() error = %v", err)
		}
		got, err := s.LoadClassWeights(path)
		if err != nil || got["spam"] != 3 {
			t.Errorf("LoadClassWeights() = %v, %v", got, err)
		}
	})

	t.Run("model config", func(t *testing.T) {
		path := filepath.Join(dir, "model.json")
		missing, err := s.LoadModelConfig(filepath.Join(dir, "none.json"))
		if err != nil || missing != nil {
			t.Fatalf("missing model config = %v, %v; want nil, nil", missing, err)
		}

		alpha := 0.3
		cfg := &domain.ModelConfig{ModelName: "m", BestAlpha: &alpha, TrainedAt: time.Unix(0, 0).UTC()}
		if err := s.SaveModelConfig(path, cfg); err != nil {
			t.Fatalf("SaveModelConfig() error = %v", err)
		}
		got, err := s.LoadModelConfig(path)
		if err != nil {
			t.Fatalf("LoadModelConfig() error = %v", err)
		}
		if got.BestAlpha == nil || *got.BestAlpha != 0.3 {
			t.Errorf("BestAlpha = %v", got.BestAlpha)
		}

		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".tmp" {
				t.Errorf("temporary file %s left behind", e.Name())
			}
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		_ = os.WriteFile(path, []byte("{not json"), 0o644)
		if _, err := s.LoadModelConfig(path); err == nil {
			t.Error("corrupt model config should fail")
		}
	})
}
