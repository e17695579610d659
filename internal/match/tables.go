package match

import (
	"errors"
	"fmt"
)

// SynonymGroup pairs ground-truth terms with answer terms that express the
// same idea. Terms may be multi-word phrases.
type SynonymGroup struct {
	Truth  []string `yaml:"truth" json:"truth"`
	Answer []string `yaml:"answer" json:"answer"`
}

// Thresholds are the lower bounds of each overlap grade.
type Thresholds struct {
	Excellent  float64 `yaml:"excellent" json:"excellent"`
	Good       float64 `yaml:"good" json:"good"`
	Acceptable float64 `yaml:"acceptable" json:"acceptable"`
	Weak       float64 `yaml:"weak" json:"weak"`
}

// Tables parameterize an Evaluator. Every constant the scoring pipeline
// depends on lives here so callers can substitute controlled tables.
type Tables struct {
	StopWords []string       `yaml:"stop_words" json:"stop_words"`
	Synonyms  []SynonymGroup `yaml:"synonyms" json:"synonyms"`
	// Equivalences drive the secondary reclassification pass.
	Equivalences []SynonymGroup `yaml:"equivalences" json:"equivalences"`
	// Sentinels mark answers that carry no usable content.
	Sentinels []string `yaml:"sentinels" json:"sentinels"`
	// Greetings are lead-in words stripped from answers. The following name
	// is stripped too when an attribution comes after it.
	Greetings []string `yaml:"greetings" json:"greetings"`
	// Attributions are source phrases stripped after a greeting.
	Attributions []string   `yaml:"attributions" json:"attributions"`
	Thresholds   Thresholds `yaml:"thresholds" json:"thresholds"`
	// MinTermLength is the shortest token counted as a term.
	MinTermLength int `yaml:"min_term_length" json:"min_term_length"`
	// SemanticBonus is added per synonym group that links truth and answer.
	SemanticBonus        float64 `yaml:"semantic_bonus" json:"semantic_bonus"`
	TrivialConfidence    float64 `yaml:"trivial_confidence" json:"trivial_confidence"`
	ReclassifyConfidence float64 `yaml:"reclassify_confidence" json:"reclassify_confidence"`
}

// DefaultTables returns the reference tables.
func DefaultTables() Tables {
	return Tables{
		StopWords: []string{
			"the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
			"is", "was", "are", "were", "has", "had", "have", "his", "her", "their",
			"this", "that", "they", "them", "will", "would", "could", "should",
		},
		Synonyms: []SynonymGroup{
			{Truth: []string{"terrified", "afraid"}, Answer: []string{"phobia", "scared", "fearful", "frightened"}},
			{Truth: []string{"dislikes", "hates"}, Answer: []string{"doesnt", "like", "not", "fan"}},
			{Truth: []string{"enjoys", "likes"}, Answer: []string{"prefers", "loves", "into"}},
			{Truth: []string{"nervous", "anxious"}, Answer: []string{"worried", "stressed", "concerned"}},
		},
		Equivalences: []SynonymGroup{
			{Truth: []string{"gifts", "souvenirs"}, Answer: []string{"presents", "keepsakes", "mementos"}},
			{Truth: []string{"nervous", "anxious"}, Answer: []string{"worried", "stressed", "apprehensive"}},
			{Truth: []string{"enjoys", "likes"}, Answer: []string{"prefers", "loves", "is into"}},
			{Truth: []string{"suggested", "advised"}, Answer: []string{"recommended", "proposed", "mentioned"}},
			{Truth: []string{"terrified", "afraid"}, Answer: []string{"scared", "frightened", "phobic"}},
			{Truth: []string{"collectively", "together"}, Answer: []string{"emma jake sarah", "all of them", "the group"}},
		},
		Sentinels:    []string{"having trouble responding"},
		Greetings:    []string{"hey", "hi", "hello"},
		Attributions: []string{"according to the knowledge graph", "according to knowledge graph", "according to the conversation", "according to the chat"},
		Thresholds: Thresholds{
			Excellent:  0.9,
			Good:       0.7,
			Acceptable: 0.5,
			Weak:       0.3,
		},
		MinTermLength:        3,
		SemanticBonus:        0.3,
		TrivialConfidence:    0.8,
		ReclassifyConfidence: 0.85,
	}
}

// ErrInvalidTables is returned for tables an Evaluator cannot use.
var ErrInvalidTables = errors.New("match: invalid tables")

// Validate checks threshold ordering and confidence ranges.
func (t Tables) Validate() error {
	th := t.Thresholds
	if !(th.Excellent >= th.Good && th.Good >= th.Acceptable && th.Acceptable >= th.Weak && th.Weak >= 0) {
		return fmt.Errorf("%w: thresholds must satisfy excellent >= good >= acceptable >= weak >= 0", ErrInvalidTables)
	}
	if th.Excellent > 1 {
		return fmt.Errorf("%w: excellent threshold %.2f exceeds 1", ErrInvalidTables, th.Excellent)
	}
	for name, v := range map[string]float64{
		"semantic_bonus":        t.SemanticBonus,
		"trivial_confidence":    t.TrivialConfidence,
		"reclassify_confidence": t.ReclassifyConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %.2f outside [0,1]", ErrInvalidTables, name, v)
		}
	}
	for i, g := range append(append([]SynonymGroup{}, t.Synonyms...), t.Equivalences...) {
		if len(g.Truth) == 0 || len(g.Answer) == 0 {
			return fmt.Errorf("%w: synonym group %d has an empty side", ErrInvalidTables, i)
		}
	}
	return nil
}
