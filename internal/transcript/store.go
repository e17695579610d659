// Package transcript loads speaker-attributed conversation transcripts and
// exposes full-text and windowed views over them.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// commentPrefixes mark lines that are skipped while parsing.
var commentPrefixes = []string{"#", "//"}

// Store holds an immutable, ordered transcript.
type Store struct {
	source     string
	utterances []models.Utterance
}

// NewStore creates a store over already-parsed utterances.
// Sequence indexes are reassigned to match slice order.
func NewStore(source string, utterances []models.Utterance) *Store {
	owned := make([]models.Utterance, len(utterances))
	copy(owned, utterances)
	for i := range owned {
		owned[i].SequenceIndex = i
	}
	return &Store{source: source, utterances: owned}
}

// Load reads a transcript from path. Files ending in .json are decoded as an
// array of utterances; anything else is parsed as "speaker: text" lines.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("transcript: read %s: %w", path, err)
	}

	var utterances []models.Utterance
	if strings.EqualFold(filepath.Ext(path), ".json") {
		utterances, err = decodeJSON(path, data, time.Now())
	} else {
		utterances, err = Parse(bytes.NewReader(data), path, time.Now())
	}
	if err != nil {
		return nil, err
	}
	return NewStore(path, utterances), nil
}

// Parse extracts utterances from line-oriented text. Blank lines, comment
// lines and lines without a speaker separator are skipped. A line may carry
// an optional "[RFC3339]" timestamp prefix; utterances without one are
// stamped base + sequence index milliseconds.
//
// A source with content that yields no utterance fails with *ParseError.
func Parse(r io.Reader, source string, base time.Time) ([]models.Utterance, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		utterances []models.Utterance
		sawContent bool
		lineNo     int
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isComment(line) {
			continue
		}
		sawContent = true

		ts, rest := splitTimestamp(line)
		speaker, text, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		speaker = strings.TrimSpace(speaker)
		if speaker == "" {
			continue
		}

		idx := len(utterances)
		if ts.IsZero() {
			ts = base.Add(time.Duration(idx) * time.Millisecond)
		}
		utterances = append(utterances, models.Utterance{
			Speaker:       speaker,
			Text:          strings.TrimSpace(text),
			SequenceIndex: idx,
			Timestamp:     ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Source: source, Line: lineNo, Msg: "read failed", Err: err}
	}
	if sawContent && len(utterances) == 0 {
		return nil, &ParseError{Source: source, Msg: "no utterance found"}
	}
	return utterances, nil
}

func decodeJSON(source string, data []byte, base time.Time) ([]models.Utterance, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []models.Utterance
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Source: source, Msg: "invalid JSON transcript", Err: err}
	}

	utterances := make([]models.Utterance, 0, len(raw))
	for _, u := range raw {
		u.Speaker = strings.TrimSpace(u.Speaker)
		if u.Speaker == "" {
			continue
		}
		u.SequenceIndex = len(utterances)
		if u.Timestamp.IsZero() {
			u.Timestamp = base.Add(time.Duration(u.SequenceIndex) * time.Millisecond)
		}
		utterances = append(utterances, u)
	}
	if len(raw) > 0 && len(utterances) == 0 {
		return nil, &ParseError{Source: source, Msg: "no utterance found"}
	}
	return utterances, nil
}

func isComment(line string) bool {
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// splitTimestamp strips a leading "[RFC3339]" prefix when present.
func splitTimestamp(line string) (time.Time, string) {
	if !strings.HasPrefix(line, "[") {
		return time.Time{}, line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, line
	}
	ts, err := time.Parse(time.RFC3339, line[1:end])
	if err != nil {
		return time.Time{}, line
	}
	return ts, strings.TrimSpace(line[end+1:])
}

// Source returns the path or name the store was loaded from.
func (s *Store) Source() string {
	return s.source
}

// Len returns the number of utterances.
func (s *Store) Len() int {
	return len(s.utterances)
}

// Utterances returns a copy of all utterances in order.
func (s *Store) Utterances() []models.Utterance {
	out := make([]models.Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// FullText renders every utterance as "speaker: text", one per line.
func (s *Store) FullText() string {
	return models.RenderUtterances(s.utterances)
}

// Windowed returns the last limit utterances, or all of them when fewer
// exist. A limit <= 0 means no bound.
func (s *Store) Windowed(limit int) []models.Utterance {
	if limit <= 0 || limit >= len(s.utterances) {
		return s.Utterances()
	}
	out := make([]models.Utterance, limit)
	copy(out, s.utterances[len(s.utterances)-limit:])
	return out
}
