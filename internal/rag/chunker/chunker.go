// Package chunker splits a transcript into overlapping windows of utterances
// for retrieval.
package chunker

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// ErrInvalidWindowConfig is returned when chunk_size > overlap >= 0 does not hold.
var ErrInvalidWindowConfig = errors.New("chunker: invalid window config")

// Chunker defines the interface for transcript chunking strategies.
type Chunker interface {
	// Chunk splits an ordered utterance sequence into chunks.
	Chunk(utterances []models.Utterance) ([]models.Chunk, error)

	// Name returns the chunker name for logging and debugging.
	Name() string
}

// Config contains window configuration.
type Config struct {
	// ChunkSize is the number of utterances per chunk.
	// Default: 10
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ChunkOverlap is the number of utterances shared by consecutive chunks.
	// Default: 3
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// DefaultConfig returns the default window configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    10,
		ChunkOverlap: 3,
	}
}

// Validate checks chunk_size > overlap >= 0.
func (c Config) Validate() error {
	if c.ChunkOverlap < 0 || c.ChunkSize <= c.ChunkOverlap {
		return fmt.Errorf("%w: chunk_size=%d overlap=%d", ErrInvalidWindowConfig, c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Step is how far each window advances.
func (c Config) Step() int {
	return c.ChunkSize - c.ChunkOverlap
}

var _ Chunker = (*WindowChunker)(nil)

// WindowChunker produces fixed-size utterance windows.
type WindowChunker struct {
	config Config
}

// NewWindowChunker creates a chunker, rejecting invalid configuration.
func NewWindowChunker(cfg Config) (*WindowChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WindowChunker{config: cfg}, nil
}

// Name returns the chunker name.
func (w *WindowChunker) Name() string {
	return "window"
}

// Config returns the chunker configuration.
func (w *WindowChunker) Config() Config {
	return w.config
}

// Chunk splits utterances into windows of ChunkSize advancing by Step.
// The final window may be shorter. Windowing stops once a window reaches
// the end of the sequence, so no window is contained in its predecessor.
func (w *WindowChunker) Chunk(utterances []models.Utterance) ([]models.Chunk, error) {
	n := len(utterances)
	if n == 0 {
		return nil, nil
	}

	step := w.config.Step()
	chunks := make([]models.Chunk, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := min(start+w.config.ChunkSize, n)
		window := make([]models.Utterance, end-start)
		copy(window, utterances[start:end])
		chunks = append(chunks, models.Chunk{
			ID:         len(chunks),
			Utterances: window,
			StartIndex: start,
			EndIndex:   end,
		})
		if end == n {
			break
		}
	}
	return chunks, nil
}

// Build is a convenience wrapper around NewWindowChunker and Chunk.
func Build(utterances []models.Utterance, chunkSize, overlap int) ([]models.Chunk, error) {
	w, err := NewWindowChunker(Config{ChunkSize: chunkSize, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}
	return w.Chunk(utterances)
}
