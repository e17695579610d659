package models

import "time"

// AnswerRecord is what a strategy produced for one question.
// Exactly one record exists per (strategy, question) pair.
type AnswerRecord struct {
	// Strategy is the name of the strategy that produced the answer.
	Strategy string `json:"strategy"`

	// Question is the prompt that was asked.
	Question string `json:"question"`

	// Answer is the answer text, or a diagnostic message when Succeeded is false.
	Answer string `json:"answer"`

	// Elapsed is the wall time spent producing the answer.
	Elapsed time.Duration `json:"elapsed"`

	// Succeeded reports whether the strategy obtained an answer from its backend.
	Succeeded bool `json:"succeeded"`

	// Metadata holds strategy-specific details (context size, chunk ids, attempts).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match grades, from best to worst.
const (
	GradeExact      = "exact"
	GradeSemantic   = "semantic"
	GradeTrivial    = "trivial"
	GradeExcellent  = "excellent"
	GradeGood       = "good"
	GradeAcceptable = "acceptable"
	GradeWeak       = "weak"
	GradeNone       = "none"
	GradeInvalid    = "invalid"
)

// MatchVerdict is the outcome of comparing an answer with its ground truth.
type MatchVerdict struct {
	IsMatch    bool    `json:"is_match"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Grade      string  `json:"grade,omitempty"`
}

// Gap types assigned to answers that did not match.
const (
	GapExtractionFailure  = "extraction_failure"
	GapMissingData        = "missing_data"
	GapSpecificityLoss    = "specificity_loss"
	GapSemanticDisconnect = "semantic_disconnect"
	GapUnknown            = "unknown"
)

// GapAnalysis explains why an answer missed its ground truth.
type GapAnalysis struct {
	Type        string `json:"type"`
	Explanation string `json:"explanation"`
}

// ScoredAnswer pairs an AnswerRecord with its verdict.
// It is the unit stored in a comparison report.
type ScoredAnswer struct {
	QuestionIndex int          `json:"question_index"`
	Category      string       `json:"category,omitempty"`
	GroundTruth   string       `json:"ground_truth"`
	Record        AnswerRecord `json:"record"`
	Verdict       MatchVerdict `json:"verdict"`
	Gap           *GapAnalysis `json:"gap,omitempty"`
}

// Key identifies the (question, strategy) pair of a scored answer.
func (s ScoredAnswer) Key() PairKey {
	return PairKey{QuestionIndex: s.QuestionIndex, Strategy: s.Record.Strategy}
}

// PairKey identifies one unit of evaluation work.
type PairKey struct {
	QuestionIndex int
	Strategy      string
}
