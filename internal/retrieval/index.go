package retrieval

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
)

var (
	ErrEmptyVector       = errors.New("vector cannot be empty")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Hit is one search result: the ordinal of a stored vector and its squared
// Euclidean distance to the query.
type Hit struct {
	Ordinal  int
	Distance float32
}

// FlatIndex is an exact nearest-neighbour index. Vectors are addressed by
// insertion ordinal and every search scans all of them.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

type flatIndexFile struct {
	Dim     int
	Vectors [][]float32
}

func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

// Add appends a copy of vector and returns its ordinal. The first vector fixes
// the dimension.
func (i *FlatIndex) Add(vector []float32) (int, error) {
	if len(vector) == 0 {
		return -1, ErrEmptyVector
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dim == 0 {
		i.dim = len(vector)
	} else if len(vector) != i.dim {
		return -1, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), i.dim)
	}

	copied := make([]float32, len(vector))
	copy(copied, vector)
	i.vectors = append(i.vectors, copied)
	return len(i.vectors) - 1, nil
}

func (i *FlatIndex) NTotal() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.vectors)
}

func (i *FlatIndex) Dim() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dim
}

// Search returns up to k nearest vectors, closest first. Equal distances are
// ordered by ordinal.
func (i *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.vectors) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), i.dim)
	}

	hits := make([]Hit, len(i.vectors))
	for ord, vec := range i.vectors {
		hits[ord] = Hit{Ordinal: ord, Distance: squaredL2(query, vec)}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Save writes the index with gob, replacing path atomically.
func (i *FlatIndex) Save(path string) error {
	if path == "" {
		return errors.New("path is required")
	}

	i.mu.RLock()
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(flatIndexFile{Dim: i.dim, Vectors: i.vectors})
	i.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	return atomic.WriteFile(path, &buf)
}

// LoadFlatIndex reads an index written by Save.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var data flatIndexFile
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	for ord, vec := range data.Vectors {
		if len(vec) != data.Dim {
			return nil, fmt.Errorf("%w: ordinal %d has %d, header says %d", ErrDimensionMismatch, ord, len(vec), data.Dim)
		}
	}

	return &FlatIndex{dim: data.Dim, vectors: data.Vectors}, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for idx := range a {
		d := a[idx] - b[idx]
		sum += d * d
	}
	return sum
}
