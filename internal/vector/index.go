package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"docqa/internal/domain"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCorruptIndex      = errors.New("corrupt index artifact")
)

// Index is an exact inner-product index over one document's chunk vectors.
// Chunk i owns vector i.
type Index struct {
	dim    int
	vecs   [][]float32
	chunks []domain.Chunk
}

func NewIndex(chunks []domain.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	idx := &Index{}
	if len(vectors) == 0 {
		return idx, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	idx.dim = dim
	idx.vecs = append([][]float32(nil), vectors...)
	idx.chunks = append([]domain.Chunk(nil), chunks...)
	return idx, nil
}

func (i *Index) Len() int       { return len(i.vecs) }
func (i *Index) Dimension() int { return i.dim }

// Search returns the min(k, Len()) chunks with the highest inner product
// against query, best first. Equal scores keep insertion order.
func (i *Index) Search(query []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 || len(i.vecs) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), i.dim)
	}

	scored := make([]domain.ScoredChunk, len(i.vecs))
	for j, v := range i.vecs {
		scored[j] = domain.ScoredChunk{Chunk: i.chunks[j], Score: Dot(query, v)}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func (i *Index) Chunks() []domain.Chunk {
	return i.chunks
}

// MarshalBinary encodes dim(u32), n(u32) and n*dim float32 values, little endian.
func (i *Index) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8+4*i.dim*len(i.vecs))
	binary.LittleEndian.PutUint32(out[0:4], uint32(i.dim))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(i.vecs)))
	off := 8
	for _, v := range i.vecs {
		for _, x := range v {
			binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(x))
			off += 4
		}
	}
	return out, nil
}

// UnmarshalBinary restores the vectors. Chunks are attached separately.
func (i *Index) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: header truncated", ErrCorruptIndex)
	}
	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) != 8+4*dim*n {
		return fmt.Errorf("%w: want %d bytes for %d x %d, got %d", ErrCorruptIndex, 8+4*dim*n, n, dim, len(data))
	}
	vecs := make([][]float32, n)
	off := 8
	for j := 0; j < n; j++ {
		v := make([]float32, dim)
		for d := 0; d < dim; d++ {
			v[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vecs[j] = v
	}
	i.dim = dim
	i.vecs = vecs
	return nil
}

func (i *Index) attach(chunks []domain.Chunk) error {
	if len(chunks) != len(i.vecs) {
		return fmt.Errorf("%w: %d vectors but %d chunks", ErrCorruptIndex, len(i.vecs), len(chunks))
	}
	i.chunks = chunks
	return nil
}
