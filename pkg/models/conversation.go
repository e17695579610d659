// Package models defines the core data types for recallbench.
package models

import (
	"strings"
	"time"
)

// Utterance is a single speaker-attributed line of a conversation transcript.
// Utterances are ordered by SequenceIndex and never mutated after loading.
type Utterance struct {
	// Speaker is the participant who said the line.
	Speaker string `json:"speaker"`

	// Text is what was said, without the speaker prefix.
	Text string `json:"text"`

	// SequenceIndex is the 0-based position within the transcript.
	SequenceIndex int `json:"sequence_index"`

	// Timestamp is when the utterance was made (or synthesized at load time).
	Timestamp time.Time `json:"timestamp"`
}

// String renders the utterance as "speaker: text".
func (u Utterance) String() string {
	return u.Speaker + ": " + u.Text
}

// RenderUtterances renders utterances one per line, preserving order.
func RenderUtterances(utterances []Utterance) string {
	var b strings.Builder
	for i, u := range utterances {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.Speaker)
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}

// Chunk is a window of consecutive utterances used as a retrieval unit.
// Chunks are derived from a transcript and never mutated after creation.
type Chunk struct {
	// ID is the ordinal of the chunk in build order.
	ID int `json:"id"`

	// Utterances holds the window contents in transcript order.
	Utterances []Utterance `json:"utterances"`

	// StartIndex is the sequence index of the first utterance (inclusive).
	StartIndex int `json:"start_index"`

	// EndIndex is the sequence index after the last utterance (exclusive).
	EndIndex int `json:"end_index"`
}

// Len returns the number of utterances in the chunk.
func (c Chunk) Len() int {
	return c.EndIndex - c.StartIndex
}

// Text renders the chunk the same way a full transcript is rendered.
func (c Chunk) Text() string {
	return RenderUtterances(c.Utterances)
}
