package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.6, 0.8, 0},
		{0, 0, 1},
		{1, 0, 0},
	}
}

func TestFlatIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex(3)
	if err := idx.Replace(ctx, testVectors()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	tests := []struct {
		name    string
		query   []float32
		k       int
		wantIDs []int
	}{
		{"ties keep insertion order", []float32{1, 0, 0}, 3, []int{0, 4, 2}},
		{"k larger than size", []float32{0, 0, 1}, 10, []int{3, 0, 1, 2, 4}},
		{"single", []float32{0, 1, 0}, 1, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, tt.query, tt.k)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(hits) != len(tt.wantIDs) {
				t.Fatalf("len = %d, want %d", len(hits), len(tt.wantIDs))
			}
			for i, h := range hits {
				if h.ID != tt.wantIDs[i] {
					t.Errorf("hit[%d].ID = %d, want %d", i, h.ID, tt.wantIDs[i])
				}
				if i > 0 && h.Score > hits[i-1].Score {
					t.Errorf("hits not descending at %d", i)
				}
			}
		})
	}

	if _, err := idx.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("dimension mismatch should fail")
	}
}

func TestFlatIndex_Replace(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex(0)
	if err := idx.Replace(ctx, nil); err == nil {
		t.Error("empty Replace should fail")
	}
	if err := idx.Replace(ctx, [][]float32{{1, 0}, {1}}); err == nil {
		t.Error("ragged vectors should fail")
	}
	if err := idx.Replace(ctx, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if idx.Dimension() != 2 || idx.Size() != 1 {
		t.Errorf("dim=%d size=%d, want 2/1", idx.Dimension(), idx.Size())
	}
	if err := idx.Replace(ctx, [][]float32{{1, 0, 0}}); err == nil {
		t.Error("dimension change should fail")
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "index.bin")

	idx := NewFlatIndex(3)
	_ = idx.Replace(ctx, testVectors())
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := LoadFlatIndex(path)
	if err != nil {
		t.Fatalf("LoadFlatIndex() error = %v", err)
	}
	if loaded.Size() != 5 || loaded.Dimension() != 3 {
		t.Fatalf("loaded size=%d dim=%d", loaded.Size(), loaded.Dimension())
	}
	v, ok := loaded.Vector(2)
	if !ok || v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("Vector(2) = %v", v)
	}

	t.Run("truncated", func(t *testing.T) {
		data, _ := os.ReadFile(path)
		bad := filepath.Join(t.TempDir(), "bad.bin")
		_ = os.WriteFile(bad, data[:len(data)-3], 0o644)
		if _, err := LoadFlatIndex(bad); err == nil {
			t.Error("truncated file should fail")
		}
	})

	t.Run("wrong magic", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.bin")
		_ = os.WriteFile(bad, []byte("nope and more bytes"), 0o644)
		if _, err := LoadFlatIndex(bad); err == nil {
			t.Error("wrong magic should fail")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := LoadFlatIndex(filepath.Join(t.TempDir(), "none.bin")); err == nil {
			t.Error("missing file should fail")
		}
	})
}
