package match

import (
	"errors"
	"testing"

	"github.com/haasonsaas/recallbench/pkg/models"
)

func TestEvaluate(t *testing.T) {
	e := Default()
	tests := []struct {
		name       string
		truth      string
		answer     string
		match      bool
		confidence float64
		grade      string
	}{
		{
			name: "exact substring after boilerplate", truth: "Jake", answer: "hey emma jake went camping 😊",
			match: true, confidence: 1.0, grade: models.GradeExact,
		},
		{
			name: "exact ignores punctuation and case", truth: "Midnight Reverie!", answer: "She kept playing \"midnight reverie\" all week.",
			match: true, confidence: 1.0, grade: models.GradeExact,
		},
		{
			name: "trivial ground truth", truth: "the", answer: "anything",
			match: true, confidence: 0.8, grade: models.GradeTrivial,
		},
		{
			name: "no overlap", truth: "Sarah loves hiking", answer: "Jake dislikes swimming",
			match: false, confidence: 0, grade: models.GradeNone,
		},
		{
			name: "empty answer", truth: "Jake", answer: "   ",
			match: false, confidence: 0, grade: models.GradeInvalid,
		},
		{
			name: "sentinel answer", truth: "Jake", answer: "Hey Emma, I'm having trouble responding right now.",
			match: false, confidence: 0, grade: models.GradeInvalid,
		},
		{
			name: "full overlap out of order", truth: "Chloe bought souvenirs", answer: "Souvenirs were bought by chloe",
			match: true, confidence: 1.0, grade: models.GradeExcellent,
		},
		{
			name: "two of three terms", truth: "Ryan suggested beach", answer: "Ryan thinks a beach trip",
			match: true, confidence: 0.667, grade: models.GradeAcceptable,
		},
		{
			name: "one of three terms", truth: "Ryan suggested beach", answer: "Ryan said nothing",
			match: false, confidence: 0.333, grade: models.GradeWeak,
		},
		{
			name: "synonym bonus", truth: "Emma is terrified of spiders", answer: "Emma has a phobia of them",
			match: true, confidence: 0.633, grade: models.GradeAcceptable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(tt.truth, tt.answer)
			if v.IsMatch != tt.match {
				t.Errorf("IsMatch = %v, want %v (%+v)", v.IsMatch, tt.match, v)
			}
			if v.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v (%+v)", v.Confidence, tt.confidence, v)
			}
			if v.Grade != tt.grade {
				t.Errorf("Grade = %q, want %q (%+v)", v.Grade, tt.grade, v)
			}
		})
	}
}

func TestEvaluate_NoValidResponseReason(t *testing.T) {
	v := Default().Evaluate("Jake", "")
	if v.Reason != ReasonNoValidResponse || v.Confidence != 0 || v.IsMatch {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := Default()
	pairs := [][2]string{
		{"Emma is terrified of spiders", "Emma has a phobia of them and is scared"},
		{"Chloe enjoys indie and folk music", "Chloe prefers folk"},
		{"Jake", "hey emma jake went camping 😊"},
	}
	for _, p := range pairs {
		first := e.Evaluate(p[0], p[1])
		for i := 0; i < 50; i++ {
			if got := e.Evaluate(p[0], p[1]); got != first {
				t.Fatalf("Evaluate(%q, %q) changed: %+v vs %+v", p[0], p[1], got, first)
			}
		}
	}
}

func TestEvaluate_BoilerplateOnlyStrippedFromAnswer(t *testing.T) {
	e := Default()
	// The greeting is part of the ground truth here and must survive.
	v := e.Evaluate("hey jude", "The song was hey jude")
	if v.Grade != models.GradeExact {
		t.Fatalf("verdict = %+v, want exact", v)
	}

	tests := []struct {
		answer string
		want   string
	}{
		{answer: "Hey Emma according to the knowledge graph, Jake did.", want: "jake did"},
		{answer: "Hello! Jake went camping.", want: "jake went camping"},
		{answer: "Hi, Sarah is afraid of spiders.", want: "sarah is afraid of spiders"},
		{answer: "hey emma jake went camping 😊", want: "emma jake went camping"},
		{answer: "History was his favourite subject", want: "history was his favourite subject"},
		{answer: "Hello", want: ""},
	}
	for _, tt := range tests {
		if got := e.NormalizeAnswer(tt.answer); got != tt.want {
			t.Errorf("NormalizeAnswer(%q) = %q, want %q", tt.answer, got, tt.want)
		}
	}

	for _, c := range [][2]string{
		{"Jake", "Hello! Jake went camping."},
		{"Sarah", "Hi, Sarah is afraid of spiders."},
	} {
		if v := e.Evaluate(c[0], c[1]); !v.IsMatch || v.Grade != models.GradeExact || v.Confidence != 1.0 {
			t.Errorf("Evaluate(%q, %q) = %+v, want exact match", c[0], c[1], v)
		}
	}
}

func TestEvaluate_ConfidenceBounded(t *testing.T) {
	e := Default()
	v := e.Evaluate("Emma terrified nervous", "Emma was nervous, scared and worried")
	if v.Confidence > 1.0 || v.Confidence < 0 {
		t.Fatalf("confidence = %v", v.Confidence)
	}
	if v.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want capped 1.0", v.Confidence)
	}
}

func TestEvaluate_CustomTables(t *testing.T) {
	tables := DefaultTables()
	tables.Thresholds = Thresholds{Excellent: 1, Good: 1, Acceptable: 1, Weak: 0.5}
	tables.Synonyms = nil
	e, err := New(tables)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := e.Evaluate("Ryan suggested beach", "Ryan thinks a beach trip")
	if v.IsMatch || v.Grade != models.GradeWeak {
		t.Fatalf("verdict = %+v, want weak miss under strict tables", v)
	}
}

func TestTables_Validate(t *testing.T) {
	bad := DefaultTables()
	bad.Thresholds.Good = 0.95
	if _, err := New(bad); !errors.Is(err, ErrInvalidTables) {
		t.Fatalf("err = %v, want ErrInvalidTables", err)
	}
	bad = DefaultTables()
	bad.Synonyms = append(bad.Synonyms, SynonymGroup{Truth: []string{"x"}})
	if _, err := New(bad); !errors.Is(err, ErrInvalidTables) {
		t.Fatalf("err = %v, want ErrInvalidTables", err)
	}
}

func TestReclassify(t *testing.T) {
	e := Default()
	tests := []struct {
		name   string
		truth  string
		answer string
		match  bool
		reason string
	}{
		{name: "equivalence", truth: "Chloe promised gifts", answer: "She will bring back some presents", match: true, reason: "semantic: gifts ≈ presents"},
		{name: "phrase", truth: "They cheered him up collectively", answer: "All of them sent memes", match: true, reason: "semantic: collectively ≈ all of them"},
		{name: "no link", truth: "Sarah loves hiking", answer: "Jake dislikes swimming", match: false},
		{name: "invalid stays invalid", truth: "gifts", answer: "", match: false, reason: ReasonNoValidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.EvaluateEnhanced(tt.truth, tt.answer)
			if v.IsMatch != tt.match {
				t.Fatalf("verdict = %+v, want match %v", v, tt.match)
			}
			if tt.reason != "" && v.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", v.Reason, tt.reason)
			}
			if tt.match && (v.Confidence != 0.85 || v.Grade != models.GradeSemantic) {
				t.Fatalf("verdict = %+v", v)
			}
		})
	}

	exact := e.Evaluate("Jake", "Jake")
	if got := e.Reclassify(exact, "Jake", "Jake"); got != exact {
		t.Fatalf("Reclassify changed a match: %+v", got)
	}
}

func TestAnalyzeGap(t *testing.T) {
	yes := EvidenceFunc(func(string, string) bool { return true })
	no := EvidenceFunc(func(string, string) bool { return false })
	tests := []struct {
		name     string
		truth    string
		answer   string
		evidence Evidence
		want     string
	}{
		{"extraction failure", "souvenirs", "There is no specific mention of gifts.", yes, models.GapExtractionFailure},
		{"missing data", "souvenirs", "Gifts haven't been specifically mentioned.", no, models.GapMissingData},
		{"nil evidence", "souvenirs", "There is no specific mention of gifts.", nil, models.GapMissingData},
		{"specificity loss", "Emma, Jake and Sarah", "Overall, the group was supportive.", no, models.GapSpecificityLoss},
		{"semantic disconnect", "beach vacation", "Hey Emma according to the knowledge graph Ryan mentioned a trip", no, models.GapSemanticDisconnect},
		{"unknown", "beach vacation", "Ryan mentioned a trip", no, models.GapUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeGap("q", tt.truth, tt.answer, tt.evidence)
			if got.Type != tt.want {
				t.Fatalf("gap = %+v, want %s", got, tt.want)
			}
			if got.Explanation == "" {
				t.Fatal("explanation is empty")
			}
		})
	}
}
