package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"spamfilter/core/domain"
	"spamfilter/core/port/out"
)

// =============================================================================
// Record Store (in-memory MetadataStore)
// =============================================================================

var _ out.MetadataStore = RecordStore(nil)

// RecordStore serves metadata from memory. Position i must hold ID i.
type RecordStore []domain.Record

// NewRecordStore checks ids are the positions 0..n-1.
func NewRecordStore(records []domain.Record) (RecordStore, error) {
	for i, r := range records {
		if r.ID != i {
			return nil, fmt.Errorf("metadata record at position %d has index %d", i, r.ID)
		}
	}
	return RecordStore(records), nil
}

func (s RecordStore) Get(id int) (string, string, bool) {
	if id < 0 || id >= len(s) {
		return "", "", false
	}
	return s[id].Label, s[id].Message, true
}

func (s RecordStore) Len() int { return len(s) }

// =============================================================================
// JSON Artifacts
// =============================================================================

// ArtifactStore reads and writes the JSON training artifacts.
type ArtifactStore struct{}

// NewArtifactStore creates an artifact store.
func NewArtifactStore() *ArtifactStore { return &ArtifactStore{} }

func (s *ArtifactStore) LoadMetadata(path string) (RecordStore, error) {
	var records []domain.Record
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("metadata %s is empty", path)
	}
	return NewRecordStore(records)
}

func (s *ArtifactStore) SaveMetadata(path string, records []domain.Record) error {
	return writeJSONAtomic(path, records)
}

func (s *ArtifactStore) LoadClassWeights(path string) (map[string]float64, error) {
	var m map[string]float64
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *ArtifactStore) SaveClassWeights(path string, weights map[string]float64) error {
	return writeJSONAtomic(path, weights)
}

// LoadModelConfig returns (nil, nil) when the file does not exist.
func (s *ArtifactStore) LoadModelConfig(path string) (*domain.ModelConfig, error) {
	var cfg domain.ModelConfig
	if err := readJSON(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *ArtifactStore) SaveModelConfig(path string, cfg *domain.ModelConfig) error {
	return writeJSONAtomic(path, cfg)
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSONAtomic writes to a temporary file in the same directory and
// renames it over path.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
