package eval

import (
	"math"
	"sort"
	"time"

	"github.com/haasonsaas/recallbench/internal/match"
	"github.com/haasonsaas/recallbench/internal/rag/index"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// MaxGapExamples caps the example questions listed per gap type.
const MaxGapExamples = 3

// GapBreakdown counts misses of one gap type.
type GapBreakdown struct {
	Type       string   `json:"type"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
	Examples   []string `json:"examples"`
}

// RescoreSummary describes what a rescore changed.
type RescoreSummary struct {
	Changed      int            `json:"changed"`
	Reclassified int            `json:"reclassified"`
	Misses       int            `json:"misses"`
	Gaps         []GapBreakdown `json:"gaps"`
}

// Rescore re-grades every stored answer with the enhanced evaluator and
// attaches a gap analysis to each miss. No strategy is called again; the
// input report is left untouched.
func Rescore(r *Report, evaluator *match.Evaluator, evidence match.Evidence, now time.Time) (*Report, RescoreSummary) {
	out := r.Clone()
	var sum RescoreSummary
	counts := map[string]*GapBreakdown{}

	for i := range out.Results {
		res := &out.Results[i]
		var v models.MatchVerdict
		if res.Record.Succeeded {
			v = evaluator.EvaluateEnhanced(res.GroundTruth, res.Record.Answer)
		} else {
			v = models.MatchVerdict{Reason: match.ReasonNoValidResponse, Grade: models.GradeInvalid}
		}
		if v != res.Verdict {
			sum.Changed++
		}
		if v.Grade == models.GradeSemantic {
			sum.Reclassified++
		}
		res.Verdict = v
		res.Gap = nil
		if v.IsMatch {
			continue
		}

		gap := match.AnalyzeGap(res.Record.Question, res.GroundTruth, res.Record.Answer, evidence)
		res.Gap = &gap
		sum.Misses++
		g := counts[gap.Type]
		if g == nil {
			g = &GapBreakdown{Type: gap.Type}
			counts[gap.Type] = g
		}
		g.Count++
		if len(g.Examples) < MaxGapExamples && !containsString(g.Examples, res.Record.Question) {
			g.Examples = append(g.Examples, res.Record.Question)
		}
	}

	for _, g := range counts {
		g.Percentage = math.Round(float64(g.Count)/float64(sum.Misses)*1000) / 10
		sum.Gaps = append(sum.Gaps, *g)
	}
	sort.Slice(sum.Gaps, func(i, j int) bool {
		if sum.Gaps[i].Count != sum.Gaps[j].Count {
			return sum.Gaps[i].Count > sum.Gaps[j].Count
		}
		return sum.Gaps[i].Type < sum.Gaps[j].Type
	})

	out.Recompute(now)
	return out, sum
}

// MinEvidenceCoverage is the share of ground-truth terms one chunk must
// contain for the conversation to count as holding the answer.
const MinEvidenceCoverage = 0.5

// IndexEvidence looks for the ground truth in an indexed conversation.
type IndexEvidence struct {
	Index     *index.Index
	Evaluator *match.Evaluator
}

// HasEvidence reports whether some chunk contains at least
// MinEvidenceCoverage of the ground truth's content terms.
func (e IndexEvidence) HasEvidence(_, groundTruth string) bool {
	if e.Index == nil {
		return false
	}
	ev := e.Evaluator
	if ev == nil {
		ev = match.Default()
	}
	terms := ev.Terms(match.Normalize(groundTruth))
	if len(terms) == 0 {
		return false
	}
	for _, c := range e.Index.Chunks() {
		words := index.Terms(match.Normalize(c.Text()))
		hits := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				hits++
			}
		}
		if float64(hits)/float64(len(terms)) >= MinEvidenceCoverage {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
