package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// SchemaVersion identifies the report layout.
const SchemaVersion = 1

// Metadata summarises a run.
type Metadata struct {
	SchemaVersion       int       `json:"schema_version"`
	RunID               string    `json:"run_id"`
	StartedAt           time.Time `json:"started_at"`
	GeneratedAt         time.Time `json:"generated_at"`
	Transcript          string    `json:"transcript,omitempty"`
	QuestionSource      string    `json:"question_source,omitempty"`
	TotalQuestions      int       `json:"total_questions"`
	Strategies          []string  `json:"strategies"`
	CompletedPairs      int       `json:"completed_pairs"`
	SuccessfulResponses int       `json:"successful_responses"`
	ErrorResponses      int       `json:"error_responses"`
	Correct             int       `json:"correct"`
	Accuracy            float64   `json:"accuracy"`
	Complete            bool      `json:"complete"`
	Resumed             bool      `json:"resumed"`
}

// StrategyStats aggregates one strategy's results.
type StrategyStats struct {
	Answered       int     `json:"answered"`
	Succeeded      int     `json:"succeeded"`
	SuccessRate    float64 `json:"success_rate"`
	Correct        int     `json:"correct"`
	Accuracy       float64 `json:"accuracy"`
	AvgTimeSeconds float64 `json:"avg_time_seconds"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// CategoryStats aggregates results for one (category, strategy) cell.
type CategoryStats struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Report is the comparison report. Results is kept sorted by question
// index, then strategy order.
type Report struct {
	Metadata   Metadata                            `json:"evaluation_metadata"`
	Strategies map[string]StrategyStats            `json:"per_strategy_stats"`
	Categories map[string]map[string]CategoryStats `json:"per_category_stats,omitempty"`
	Results    []models.ScoredAnswer               `json:"detailed_results"`
}

// QuestionResults groups a question's results across strategies.
type QuestionResults struct {
	QuestionIndex int
	Question      string
	Category      string
	GroundTruth   string
	Results       []models.ScoredAnswer
}

// NewReport starts an empty report for a run.
func NewReport(runID string, strategies []string, started time.Time) *Report {
	return &Report{
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			RunID:         runID,
			StartedAt:     started.UTC(),
			Strategies:    append([]string(nil), strategies...),
		},
		Strategies: map[string]StrategyStats{},
	}
}

// Clone returns a copy whose slices and maps can be modified independently.
// Records are immutable and shared.
func (r *Report) Clone() *Report {
	out := *r
	out.Metadata.Strategies = append([]string(nil), r.Metadata.Strategies...)
	out.Results = append([]models.ScoredAnswer(nil), r.Results...)
	out.Strategies = make(map[string]StrategyStats, len(r.Strategies))
	for k, v := range r.Strategies {
		out.Strategies[k] = v
	}
	if r.Categories != nil {
		out.Categories = make(map[string]map[string]CategoryStats, len(r.Categories))
		for cat, m := range r.Categories {
			cp := make(map[string]CategoryStats, len(m))
			for k, v := range m {
				cp[k] = v
			}
			out.Categories[cat] = cp
		}
	}
	return &out
}

// Completed returns the set of pairs present in the report.
func (r *Report) Completed() map[models.PairKey]struct{} {
	done := make(map[models.PairKey]struct{}, len(r.Results))
	for _, res := range r.Results {
		done[res.Key()] = struct{}{}
	}
	return done
}

// Covers reports whether every (question, strategy) pair is present.
func (r *Report) Covers(questions []models.Question, strategies []string) bool {
	done := r.Completed()
	for _, q := range questions {
		for _, s := range strategies {
			if _, ok := done[models.PairKey{QuestionIndex: q.Index, Strategy: s}]; !ok {
				return false
			}
		}
	}
	return true
}

// Sort orders results by question index, then by position in order.
// Strategies missing from order sort after known ones, by name.
func (r *Report) Sort(order []string) {
	rank := make(map[string]int, len(order))
	for i, s := range order {
		rank[s] = i
	}
	pos := func(s string) int {
		if p, ok := rank[s]; ok {
			return p
		}
		return len(order)
	}
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i], r.Results[j]
		if a.QuestionIndex != b.QuestionIndex {
			return a.QuestionIndex < b.QuestionIndex
		}
		pa, pb := pos(a.Record.Strategy), pos(b.Record.Strategy)
		if pa != pb {
			return pa < pb
		}
		return a.Record.Strategy < b.Record.Strategy
	})
}

// Recompute rebuilds every aggregate from Results.
func (r *Report) Recompute(now time.Time) {
	type acc struct {
		stats      StrategyStats
		elapsed    time.Duration
		confidence float64
	}
	per := map[string]*acc{}
	cats := map[string]map[string]CategoryStats{}
	m := &r.Metadata
	m.CompletedPairs, m.SuccessfulResponses, m.ErrorResponses, m.Correct = 0, 0, 0, 0

	for _, res := range r.Results {
		name := res.Record.Strategy
		a := per[name]
		if a == nil {
			a = &acc{}
			per[name] = a
		}
		a.stats.Answered++
		a.elapsed += res.Record.Elapsed
		a.confidence += res.Verdict.Confidence
		m.CompletedPairs++
		if res.Record.Succeeded {
			a.stats.Succeeded++
			m.SuccessfulResponses++
		} else {
			m.ErrorResponses++
		}
		if res.Verdict.IsMatch {
			a.stats.Correct++
			m.Correct++
		}

		cat := res.Category
		if cat == "" {
			cat = "uncategorized"
		}
		if cats[cat] == nil {
			cats[cat] = map[string]CategoryStats{}
		}
		cs := cats[cat][name]
		cs.Total++
		if res.Verdict.IsMatch {
			cs.Correct++
		}
		cs.Accuracy = ratio(cs.Correct, cs.Total)
		cats[cat][name] = cs
	}

	r.Strategies = make(map[string]StrategyStats, len(per))
	for name, a := range per {
		s := a.stats
		s.SuccessRate = ratio(s.Succeeded, s.Answered)
		s.Accuracy = ratio(s.Correct, s.Answered)
		if s.Answered > 0 {
			s.AvgTimeSeconds = round3(a.elapsed.Seconds() / float64(s.Answered))
			s.AvgConfidence = round3(a.confidence / float64(s.Answered))
		}
		r.Strategies[name] = s
	}
	if len(cats) > 0 {
		r.Categories = cats
	} else {
		r.Categories = nil
	}
	m.Accuracy = ratio(m.Correct, m.CompletedPairs)
	m.GeneratedAt = now.UTC()
}

// PerQuestion groups results by question, in question order.
func (r *Report) PerQuestion() []QuestionResults {
	var out []QuestionResults
	for _, res := range r.Results {
		if n := len(out); n > 0 && out[n-1].QuestionIndex == res.QuestionIndex {
			out[n-1].Results = append(out[n-1].Results, res)
			continue
		}
		out = append(out, QuestionResults{
			QuestionIndex: res.QuestionIndex,
			Question:      res.Record.Question,
			Category:      res.Category,
			GroundTruth:   res.GroundTruth,
			Results:       []models.ScoredAnswer{res},
		})
	}
	return out
}

// StrategyNames returns the strategies that have stats, in report order.
func (r *Report) StrategyNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range r.Metadata.Strategies {
		if _, ok := r.Strategies[s]; ok && !seen[s] {
			seen[s] = true
			names = append(names, s)
		}
	}
	var extra []string
	for s := range r.Strategies {
		if !seen[s] {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round3(float64(n) / float64(d))
}

// WriteJSON encodes the report with indentation.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// DecodeReport parses a report and checks its schema version.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("eval: decode report: %w", err)
	}
	if r.Metadata.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("eval: report schema version %d, want %d", r.Metadata.SchemaVersion, SchemaVersion)
	}
	if r.Strategies == nil {
		r.Strategies = map[string]StrategyStats{}
	}
	return &r, nil
}

// ReadReportFile loads a report from path.
func ReadReportFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read report: %w", err)
	}
	return DecodeReport(data)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
