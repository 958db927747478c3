package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"docqa/internal/domain"
)

var ErrInvalidDocumentID = errors.New("invalid document id")

const shardCount = 32

func IndexKey(documentID string) string  { return documentID + ".index" }
func ChunksKey(documentID string) string { return documentID + ".chunks.json" }

type shard struct {
	mu      sync.RWMutex
	indexes map[string]*Index
	// gen advances whenever an id on this shard is replaced or dropped, so a
	// load that started earlier does not reinstate a stale index.
	gen uint64
}

// chunkManifest is the chunks artifact. VectorsSum is the FNV-64a of the
// index artifact it was written with.
type chunkManifest struct {
	VectorsSum uint64         `json:"vectors_sum"`
	Chunks     []domain.Chunk `json:"chunks"`
}

func checksum(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Registry owns the resident per-document indexes and loads them lazily from
// the artifact store. Documents hash onto independent shards so traffic for
// different ids does not contend on one lock. Artifact I/O runs outside the
// shard locks.
type Registry struct {
	store  ArtifactStore
	shards [shardCount]*shard
}

func NewRegistry(store ArtifactStore) *Registry {
	r := &Registry{store: store}
	for i := range r.shards {
		r.shards[i] = &shard{indexes: make(map[string]*Index)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
	}
	return nil
}

// CreateIndex builds the index for a document, persists both artifacts and
// makes it resident, replacing any previous index for the id. With no chunks
// it only removes stale artifacts; the document then searches as empty.
//
// The vectors are written first and the chunk manifest last. The manifest
// carries the checksum of the vectors it belongs to, so a pair left behind by
// an interrupted write never loads. Any write failure removes both artifacts.
func (r *Registry) CreateIndex(ctx context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if err := validateID(documentID); err != nil {
		return err
	}
	sh := r.shardFor(documentID)

	if len(chunks) == 0 {
		r.Evict(documentID)
		return r.deleteArtifacts(ctx, documentID)
	}

	idx, err := NewIndex(chunks, embeddings)
	if err != nil {
		return err
	}
	vecs, err := idx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	meta, err := json.Marshal(chunkManifest{VectorsSum: checksum(vecs), Chunks: idx.Chunks()})
	if err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}

	r.Evict(documentID)
	if err := r.store.Put(ctx, IndexKey(documentID), vecs); err != nil {
		return r.rollback(ctx, documentID, fmt.Errorf("persist index: %w", err))
	}
	if err := r.store.Put(ctx, ChunksKey(documentID), meta); err != nil {
		return r.rollback(ctx, documentID, fmt.Errorf("persist chunks: %w", err))
	}

	sh.mu.Lock()
	sh.indexes[documentID] = idx
	sh.gen++
	sh.mu.Unlock()

	slog.DebugContext(ctx, "index created", "document_id", documentID, "vectors", idx.Len(), "dim", idx.Dimension())
	return nil
}

func (r *Registry) rollback(ctx context.Context, documentID string, cause error) error {
	if err := r.deleteArtifacts(ctx, documentID); err != nil {
		slog.ErrorContext(ctx, "failed to remove partial index", "document_id", documentID, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

// Search returns the topK chunks closest to query. A document without an
// index yields an empty result.
func (r *Registry) Search(ctx context.Context, documentID string, query []float32, topK int) ([]domain.ScoredChunk, error) {
	idx, err := r.get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return []domain.ScoredChunk{}, nil
	}
	return idx.Search(query, topK)
}

// DeleteIndex drops the resident index and its artifacts. Missing indexes are
// not an error.
func (r *Registry) DeleteIndex(ctx context.Context, documentID string) error {
	if err := validateID(documentID); err != nil {
		return err
	}
	r.Evict(documentID)
	return r.deleteArtifacts(ctx, documentID)
}

// Evict releases the resident copy only; artifacts stay on storage.
func (r *Registry) Evict(documentID string) {
	sh := r.shardFor(documentID)
	sh.mu.Lock()
	delete(sh.indexes, documentID)
	sh.gen++
	sh.mu.Unlock()
}

// Resident counts the indexes currently held in memory.
func (r *Registry) Resident() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.indexes)
		sh.mu.RUnlock()
	}
	return n
}

func (r *Registry) get(ctx context.Context, documentID string) (*Index, error) {
	if err := validateID(documentID); err != nil {
		return nil, err
	}
	sh := r.shardFor(documentID)

	sh.mu.RLock()
	idx, ok := sh.indexes[documentID]
	gen := sh.gen
	sh.mu.RUnlock()
	if ok {
		return idx, nil
	}

	loaded, err := r.load(ctx, documentID)
	if err != nil || loaded == nil {
		return nil, err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	// A concurrent CreateIndex or load may have won the race.
	if existing, ok := sh.indexes[documentID]; ok {
		return existing, nil
	}
	// Something on the shard was replaced or dropped while loading; serve
	// this read but leave the cache alone.
	if sh.gen != gen {
		return loaded, nil
	}
	sh.indexes[documentID] = loaded
	return loaded, nil
}

// load reads both artifacts. A missing companion, or a manifest written for
// other vectors, means there is no index.
func (r *Registry) load(ctx context.Context, documentID string) (*Index, error) {
	vecs, err := r.store.Get(ctx, IndexKey(documentID))
	if errors.Is(err, ErrArtifactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	meta, err := r.store.Get(ctx, ChunksKey(documentID))
	if errors.Is(err, ErrArtifactNotFound) {
		slog.WarnContext(ctx, "index artifact without chunks, treating as missing", "document_id", documentID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}

	idx := &Index{}
	if err := idx.UnmarshalBinary(vecs); err != nil {
		return nil, err
	}
	var manifest chunkManifest
	if err := json.Unmarshal(meta, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if manifest.VectorsSum != checksum(vecs) {
		slog.WarnContext(ctx, "chunk manifest does not match index, treating as missing", "document_id", documentID)
		return nil, nil
	}
	if err := idx.attach(manifest.Chunks); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "index loaded", "document_id", documentID, "vectors", idx.Len())
	return idx, nil
}

func (r *Registry) deleteArtifacts(ctx context.Context, documentID string) error {
	if err := r.store.Delete(ctx, IndexKey(documentID)); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if err := r.store.Delete(ctx, ChunksKey(documentID)); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
