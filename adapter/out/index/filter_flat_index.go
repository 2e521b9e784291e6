// Package index provides the vector similarity index backends.
package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/viterin/vek/vek32"

	"spamfilter/core/port/out"
)

var (
	_ out.VectorIndex = (*FlatIndex)(nil)
	_ out.IndexWriter = (*FlatIndex)(nil)
)

var flatMagic = [4]byte{'S', 'F', 'I', 'X'}

const flatVersion uint32 = 1

// FlatIndex is an exact inner-product index over L2-normalized vectors.
// IDs are insertion positions.
type FlatIndex struct {
	mu   sync.RWMutex
	dim  int
	data []float32 // row-major, len = n*dim
}

// NewFlatIndex creates an empty index for dim-dimensional vectors.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dimension returns the vector dimension.
func (f *FlatIndex) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Vector returns a copy of the vector at id.
func (f *FlatIndex) Vector(id int) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dim == 0 || id < 0 || id >= len(f.data)/f.dim {
		return nil, false
	}
	v := make([]float32, f.dim)
	copy(v, f.data[id*f.dim:(id+1)*f.dim])
	return v, true
}

// Replace swaps the stored vectors.
func (f *FlatIndex) Replace(_ context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors to index")
	}
	dim := len(vectors[0])
	if f.dim > 0 && dim != f.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", dim, f.dim)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		data = append(data, v...)
	}

	f.mu.Lock()
	f.dim = dim
	f.data = data
	f.mu.Unlock()
	return nil
}

// Search returns the top-k hits by inner product, ties broken by lower id.
func (f *FlatIndex) Search(ctx context.Context, vector []float32, k int) ([]out.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	dim, data := f.dim, f.data
	f.mu.RUnlock()

	if len(vector) != dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), dim)
	}
	n := len(data) / dim
	if k > n {
		k = n
	}
	if k <= 0 {
		return []out.Hit{}, nil
	}

	hits := make([]out.Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = out.Hit{ID: i, Score: float64(vek32.Dot(vector, data[i*dim:(i+1)*dim]))}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k], nil
}

// Save writes the index atomically: magic, version, dim, count, then
// little-endian float32 rows.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	w := bufio.NewWriter(file)
	count := 0
	if f.dim > 0 {
		count = len(f.data) / f.dim
	}
	header := []uint32{flatVersion, uint32(f.dim), uint32(count)}
	err = func() error {
		if _, err := w.Write(flatMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, header); err != nil {
			return err
		}
		buf := make([]byte, 4)
		for _, v := range f.data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFlatIndex reads an index written by Save.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if magic != flatMagic {
		return nil, fmt.Errorf("%s is not a flat index file", path)
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	version, dim, count := header[0], int(header[1]), int(header[2])
	if version != flatVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	if dim <= 0 || count <= 0 {
		return nil, fmt.Errorf("index %s is empty (dim=%d, count=%d)", path, dim, count)
	}

	raw := make([]byte, dim*count*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("index %s is truncated: %w", path, err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("index %s has trailing data", path)
	}
	data := make([]float32, dim*count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &FlatIndex{dim: dim, data: data}, nil
}
