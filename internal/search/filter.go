// Package search provides the similarity ranker: filtered, thresholded top-K
// retrieval over the embedding index.
package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/vector"
)

// Recognized metadata filter keys. Filters are statically checkable: a key
// outside this set is a validation error, not a silent non-match.
const (
	FilterManufacturer   = "manufacturer"
	FilterModel          = "model"
	FilterPageStart      = "page_start"
	FilterEmbeddingModel = "embedding_model"
)

var recognizedFilterKeys = map[string]bool{
	FilterManufacturer:   true,
	FilterModel:          true,
	FilterPageStart:      true,
	FilterEmbeddingModel: true,
}

// Filter is a typed metadata predicate. A candidate matches when its metadata
// contains, as a subset, every requested key/value pair; the empty filter
// matches everything, so filtering strictly narrows the candidate pool.
type Filter map[string]string

// NewFilter validates the requested pairs against the recognized key set.
func NewFilter(pairs map[string]string) (Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := make(Filter, len(pairs))
	for k, v := range pairs {
		if !recognizedFilterKeys[k] {
			return nil, fmt.Errorf("unrecognized filter key %q (recognized: %s)", k, recognizedKeyList())
		}
		f[k] = v
	}
	return f, nil
}

// ChunkMetadata builds the index metadata for a chunk's embedding. Every
// recognized filter key that the chunk can answer is populated here, so a
// filter that works in one deployment works in all of them. Empty attribution
// fields are omitted; a filter on them then matches nothing, which is the
// subset-containment semantics.
func ChunkMetadata(chunk *models.Chunk, modelName string) vector.Metadata {
	meta := vector.Metadata{
		FilterPageStart:      strconv.Itoa(chunk.PageStart),
		FilterEmbeddingModel: modelName,
	}
	if chunk.Manufacturer != "" {
		meta[FilterManufacturer] = chunk.Manufacturer
	}
	if chunk.Model != "" {
		meta[FilterModel] = chunk.Model
	}
	return meta
}

// Matches reports whether meta contains every pair of the filter. A nil or
// empty filter matches everything.
func (f Filter) Matches(meta vector.Metadata) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func recognizedKeyList() string {
	keys := make([]string, 0, len(recognizedFilterKeys))
	for k := range recognizedFilterKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
