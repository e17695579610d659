// Package index scores transcript chunks against a query by lexical overlap
// and returns the best-matching chunks.
package index

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/haasonsaas/recallbench/internal/rag/chunker"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// Result is a retrieved chunk with its score.
type Result struct {
	Chunk models.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

// Index is an immutable set of chunks with precomputed term sets.
type Index struct {
	chunks []models.Chunk
	terms  []map[string]struct{}
}

// New indexes already-built chunks.
func New(chunks []models.Chunk) *Index {
	idx := &Index{
		chunks: chunks,
		terms:  make([]map[string]struct{}, len(chunks)),
	}
	for i, c := range chunks {
		idx.terms[i] = Terms(c.Text())
	}
	return idx
}

// Build chunks utterances with cfg and indexes the result.
func Build(utterances []models.Utterance, cfg chunker.Config) (*Index, error) {
	w, err := chunker.NewWindowChunker(cfg)
	if err != nil {
		return nil, err
	}
	chunks, err := w.Chunk(utterances)
	if err != nil {
		return nil, err
	}
	return New(chunks), nil
}

// Terms returns the set of case-folded, whitespace-separated words in text.
func Terms(text string) map[string]struct{} {
	fields := strings.Fields(cases.Fold().String(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Score counts the distinct query words that also appear in the chunk.
func Score(chunk models.Chunk, query string) float64 {
	return overlap(Terms(query), Terms(chunk.Text()))
}

func overlap(query, chunk map[string]struct{}) float64 {
	n := 0
	for w := range query {
		if _, ok := chunk[w]; ok {
			n++
		}
	}
	return float64(n)
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Chunks returns the indexed chunks in build order.
func (ix *Index) Chunks() []models.Chunk {
	out := make([]models.Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// Retrieve returns the topK highest-scoring chunks ordered by score
// descending, then chunk id ascending. A topK <= 0 ranks every chunk.
func (ix *Index) Retrieve(query string, topK int) []Result {
	q := Terms(query)
	results := make([]Result, len(ix.chunks))
	for i, c := range ix.chunks {
		results[i] = Result{Chunk: c, Score: overlap(q, ix.terms[i])}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// Cache builds one index per transcript on first use.
type Cache struct {
	config chunker.Config

	mu      sync.Mutex
	entries map[*transcript.Store]*Index
}

// NewCache validates cfg and returns an empty cache.
func NewCache(cfg chunker.Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{config: cfg, entries: make(map[*transcript.Store]*Index)}, nil
}

// Get returns the index for store, building it if needed.
func (c *Cache) Get(store *transcript.Store) (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.entries[store]; ok {
		return idx, nil
	}
	idx, err := Build(store.Utterances(), c.config)
	if err != nil {
		return nil, err
	}
	c.entries[store] = idx
	return idx, nil
}

// Config returns the window configuration used for new indexes.
func (c *Cache) Config() chunker.Config {
	return c.config
}
