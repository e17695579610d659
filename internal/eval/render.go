package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/haasonsaas/recallbench/internal/markdown"
)

// WriteMarkdown renders the human-readable summary: strategy comparison,
// per-category accuracy, and every question some strategy missed.
func WriteMarkdown(w io.Writer, r *Report) error {
	var b strings.Builder
	m := r.Metadata
	names := r.StrategyNames()

	b.WriteString("# Memory Recall Evaluation\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", m.RunID)
	fmt.Fprintf(&b, "- Generated: %s\n", m.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	if m.Transcript != "" {
		fmt.Fprintf(&b, "- Transcript: `%s`\n", m.Transcript)
	}
	if m.QuestionSource != "" {
		fmt.Fprintf(&b, "- Questions: `%s`\n", m.QuestionSource)
	}
	fmt.Fprintf(&b, "- Pairs: %d completed, %d succeeded, %d failed\n", m.CompletedPairs, m.SuccessfulResponses, m.ErrorResponses)
	fmt.Fprintf(&b, "- Overall accuracy: %s\n", percent(m.Accuracy))
	if !m.Complete {
		b.WriteString("- Status: **incomplete**, resume to finish\n")
	}

	b.WriteString("\n## Strategies\n\n")
	st := markdown.Table{
		Headers: []string{"Strategy", "Answered", "Success rate", "Correct", "Accuracy", "Avg time (s)", "Avg confidence"},
		Align: []markdown.Align{markdown.AlignLeft, markdown.AlignRight, markdown.AlignRight, markdown.AlignRight,
			markdown.AlignRight, markdown.AlignRight, markdown.AlignRight},
	}
	for _, name := range names {
		s := r.Strategies[name]
		st.AddRow(name,
			strconv.Itoa(s.Answered),
			percent(s.SuccessRate),
			strconv.Itoa(s.Correct),
			percent(s.Accuracy),
			strconv.FormatFloat(s.AvgTimeSeconds, 'f', 2, 64),
			strconv.FormatFloat(s.AvgConfidence, 'f', 3, 64),
		)
	}
	b.WriteString(st.Render())

	if len(r.Categories) > 0 {
		b.WriteString("\n## Categories\n\n")
		ct := markdown.Table{Headers: append([]string{"Category"}, names...)}
		for _, cat := range sortedKeys(r.Categories) {
			row := []string{cat}
			for _, name := range names {
				c, ok := r.Categories[cat][name]
				if !ok {
					row = append(row, "-")
					continue
				}
				row = append(row, fmt.Sprintf("%d/%d (%s)", c.Correct, c.Total, percent(c.Accuracy)))
			}
			ct.AddRow(row...)
		}
		b.WriteString(ct.Render())
	}

	var misses []QuestionResults
	for _, q := range r.PerQuestion() {
		for _, res := range q.Results {
			if !res.Verdict.IsMatch {
				misses = append(misses, q)
				break
			}
		}
	}
	if len(misses) > 0 {
		b.WriteString("\n## Misses\n")
		for _, q := range misses {
			fmt.Fprintf(&b, "\n### Q%d: %s\n\n", q.QuestionIndex+1, markdown.Escape(q.Question))
			fmt.Fprintf(&b, "Ground truth: %s\n\n", markdown.Escape(q.GroundTruth))
			mt := markdown.Table{Headers: []string{"Strategy", "Answer", "Grade", "Confidence", "Reason", "Gap"}}
			for _, res := range q.Results {
				gap := ""
				if res.Gap != nil {
					gap = res.Gap.Type
				}
				mt.AddRow(res.Record.Strategy,
					res.Record.Answer,
					res.Verdict.Grade,
					strconv.FormatFloat(res.Verdict.Confidence, 'f', 3, 64),
					res.Verdict.Reason,
					gap,
				)
			}
			b.WriteString(mt.Render())
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// csvHeader is the column layout of WriteCSV.
var csvHeader = []string{
	"question_index", "category", "question", "ground_truth", "strategy",
	"succeeded", "answer", "is_match", "grade", "confidence", "reason",
	"elapsed_seconds", "gap_type",
}

// WriteCSV writes one row per scored pair.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, res := range r.Results {
		gap := ""
		if res.Gap != nil {
			gap = res.Gap.Type
		}
		row := []string{
			strconv.Itoa(res.QuestionIndex),
			res.Category,
			res.Record.Question,
			res.GroundTruth,
			res.Record.Strategy,
			strconv.FormatBool(res.Record.Succeeded),
			res.Record.Answer,
			strconv.FormatBool(res.Verdict.IsMatch),
			res.Verdict.Grade,
			strconv.FormatFloat(res.Verdict.Confidence, 'f', 3, 64),
			res.Verdict.Reason,
			strconv.FormatFloat(res.Record.Elapsed.Seconds(), 'f', 3, 64),
			gap,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
