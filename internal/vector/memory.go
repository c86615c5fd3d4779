package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory embedding index. Entries carry metadata so that
// searches can be restricted by a metadata predicate before ranking. Search
// copies the entry table under a read lock and scores the copy, so writers are
// only blocked for the duration of the snapshot.
type MemoryIndex struct {
	dimensions int
	entries    map[string]*entry
	mu         sync.RWMutex
}

type entry struct {
	vec  []float32
	meta Metadata
}

// NewMemoryIndex creates an in-memory embedding index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		entries:    make(map[string]*entry),
	}, nil
}

// Add inserts or replaces the vector and metadata for id. A chunk has exactly
// one embedding, so re-adding an id overwrites the previous entry.
func (m *MemoryIndex) Add(ctx context.Context, id string, vec []float32, meta Metadata) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if len(vec) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), m.dimensions)
	}
	cp := make([]float32, m.dimensions)
	copy(cp, vec)
	mc := make(Metadata, len(meta))
	for k, v := range meta {
		mc[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = &entry{vec: cp, meta: mc}
	return nil
}

// Search returns up to k entries with cosine similarity to query of at least
// minSimilarity, restricted to entries whose metadata satisfies match (nil
// matches everything). Results are ordered by similarity descending, ties
// broken by id ascending, so identical inputs always rank identically. Fewer
// than k qualifying entries yields fewer results, never padding.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, minSimilarity float64, match func(Metadata) bool) ([]*Result, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// Point-in-time snapshot: copy entry references under the read lock,
	// score without holding it.
	m.mu.RLock()
	snapshot := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		snapshot[id] = e
	}
	m.mu.RUnlock()

	results := make([]*Result, 0, k)
	for id, e := range snapshot {
		if match != nil && !match(e.meta) {
			continue
		}
		sim := CosineSimilarity(query, e.vec)
		if sim < minSimilarity {
			continue
		}
		results = append(results, &Result{ID: id, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove drops entries by id. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Save persists the index to path. Directory is created if needed. Format:
// dimensions (4), n (4), then per entry: idLen (4), id bytes, vector
// (dimensions*4 bytes), metaLen (4), metadata JSON.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}

	// Deterministic file layout.
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := m.entries[id]
		idBytes := []byte(id)
		if err := binary.Write(f, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := f.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(Float32SliceToBytes(e.vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		metaBytes, err := json.Marshal(e.meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
			return fmt.Errorf("write metadata len: %w", err)
		}
		if _, err := f.Write(metaBytes); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// Dimensions must match. A missing file is not an error; the index is simply
// left unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	entries := make(map[string]*entry, n)
	vecBuf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(f, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		vec := BytesToFloat32Slice(vecBuf)
		var metaLen uint32
		if err := binary.Read(f, binary.LittleEndian, &metaLen); err != nil {
			return fmt.Errorf("read metadata len: %w", err)
		}
		metaBytes := make([]byte, metaLen)
		if _, err := io.ReadFull(f, metaBytes); err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		meta := make(Metadata)
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
		entries[string(idBytes)] = &entry{vec: vec, meta: meta}
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

// Float32SliceToBytes encodes a float32 slice as little-endian bytes.
func Float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// BytesToFloat32Slice decodes little-endian bytes into a float32 slice.
func BytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
