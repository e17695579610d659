package eval

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/recallbench/internal/markdown"
	"github.com/haasonsaas/recallbench/pkg/models"
)

func renderFixture() *Report {
	r := NewReport("run-42", []string{"full_context", "retrieval"}, fixedNow)
	r.Metadata.Transcript = "conv.txt"
	r.Metadata.Complete = true
	r.Results = []models.ScoredAnswer{
		{
			QuestionIndex: 0, Category: "episodic", GroundTruth: "At the lake",
			Record:  models.AnswerRecord{Strategy: "full_context", Question: "Where did I camp?", Answer: "At the lake", Succeeded: true, Elapsed: time.Second},
			Verdict: models.MatchVerdict{IsMatch: true, Reason: "exact", Confidence: 1, Grade: models.GradeExact},
		},
		{
			QuestionIndex: 0, Category: "episodic", GroundTruth: "At the lake",
			Record:  models.AnswerRecord{Strategy: "retrieval", Question: "Where did I camp?", Answer: "In the | woods,\nprobably", Succeeded: true, Elapsed: 2 * time.Second},
			Verdict: models.MatchVerdict{Reason: "overlap 0/1", Grade: models.GradeNone},
			Gap:     &models.GapAnalysis{Type: models.GapUnknown, Explanation: "x"},
		},
	}
	r.Recompute(fixedNow)
	return r
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, renderFixture()); err != nil {
		t.Fatalf("WriteMarkdown() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# Memory Recall Evaluation", "`run-42`", "Overall accuracy: 50.0%", "## Misses", "### Q1: Where did I camp?"} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "incomplete") {
		t.Fatal("complete report marked incomplete")
	}

	tables := markdown.FindTables(out)
	if len(tables) != 3 {
		t.Fatalf("found %d tables, want 3:\n%s", len(tables), out)
	}
	strategies := tables[0]
	if len(strategies.Rows) != 2 || strategies.Rows[0][0] != "full_context" || strategies.Rows[0][4] != "100.0%" {
		t.Fatalf("strategy table = %+v", strategies.Rows)
	}
	if got := tables[1].Rows[0]; got[0] != "episodic" || got[2] != "0/1 (0.0%)" {
		t.Fatalf("category row = %v", got)
	}
	if got := tables[2].Rows[1][1]; got != "In the | woods, probably" {
		t.Fatalf("miss answer cell = %q", got)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, renderFixture()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv output unreadable: %v", err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("rows = %v", rows)
	}
	second := rows[2]
	if second[4] != "retrieval" || second[6] != "In the | woods,\nprobably" || second[7] != "false" || second[12] != models.GapUnknown {
		t.Fatalf("row = %v", second)
	}
	if second[11] != "2.000" {
		t.Fatalf("elapsed = %q", second[11])
	}
}
