// Package match decides whether a free-text answer matches a free-text
// ground truth. Every function here is pure: identical inputs always
// produce identical verdicts.
package match

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// ReasonNoValidResponse is the reason given to empty or sentinel answers.
const ReasonNoValidResponse = "no valid response"

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}\s_]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Evaluator scores answers against ground truth using a fixed set of tables.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	tables      Tables
	stopWords   map[string]struct{}
	boilerplate *regexp.Regexp
}

// New compiles tables into an Evaluator.
func New(tables Tables) (*Evaluator, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	e := &Evaluator{
		tables:    tables,
		stopWords: make(map[string]struct{}, len(tables.StopWords)),
	}
	for _, w := range tables.StopWords {
		e.stopWords[Normalize(w)] = struct{}{}
	}
	if len(tables.Greetings) > 0 {
		e.boilerplate = regexp.MustCompile(boilerplatePattern(tables.Greetings, tables.Attributions))
	}
	return e, nil
}

// Default returns an Evaluator over DefaultTables.
func Default() *Evaluator {
	e, err := New(DefaultTables())
	if err != nil {
		panic(err)
	}
	return e
}

// Tables returns the evaluator's tables.
func (e *Evaluator) Tables() Tables {
	return e.tables
}

func boilerplatePattern(greetings, attributions []string) string {
	quote := func(in []string) string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if n := Normalize(s); n != "" {
				out = append(out, regexp.QuoteMeta(n))
			}
		}
		return strings.Join(out, "|")
	}
	// The word after a greeting is an addressee only when an attribution
	// follows it; otherwise it is part of the answer and only the greeting goes.
	pattern := `^(?:` + quote(greetings) + `)`
	if attr := quote(attributions); attr != "" {
		pattern += `(?: \S+ (?:` + attr + `))?`
	}
	return pattern + `(?: |$)`
}

// Normalize lower-cases text, drops everything but letters, digits,
// underscores and whitespace, and collapses runs of whitespace.
func Normalize(text string) string {
	s := cases.Fold().String(text)
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeAnswer normalizes an answer and strips assistant boilerplate.
// Ground truth is never passed through this.
func (e *Evaluator) NormalizeAnswer(answer string) string {
	s := Normalize(answer)
	if e.boilerplate != nil {
		s = strings.TrimSpace(e.boilerplate.ReplaceAllString(s, ""))
	}
	return s
}

// Terms returns the distinct content terms of normalized text in first-seen
// order: tokens of at least MinTermLength runes that are not stop words.
func (e *Evaluator) Terms(normalized string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if len([]rune(tok)) < e.tables.MinTermLength {
			continue
		}
		if _, stop := e.stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}

// Invalid reports whether answer is empty or holds a sentinel.
func (e *Evaluator) Invalid(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, s := range e.tables.Sentinels {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// Evaluate compares answer with groundTruth.
func (e *Evaluator) Evaluate(groundTruth, answer string) models.MatchVerdict {
	if e.Invalid(answer) {
		return models.MatchVerdict{Reason: ReasonNoValidResponse, Grade: models.GradeInvalid}
	}

	truth := Normalize(groundTruth)
	ans := e.NormalizeAnswer(answer)

	if truth != "" && strings.Contains(ans, truth) {
		return models.MatchVerdict{IsMatch: true, Reason: "exact", Confidence: 1.0, Grade: models.GradeExact}
	}

	truthTerms := e.Terms(truth)
	if len(truthTerms) == 0 {
		return models.MatchVerdict{
			IsMatch:    true,
			Reason:     "trivial: ground truth has no discriminating terms",
			Confidence: e.tables.TrivialConfidence,
			Grade:      models.GradeTrivial,
		}
	}

	answerTerms := make(map[string]struct{})
	for _, t := range e.Terms(ans) {
		answerTerms[t] = struct{}{}
	}
	shared := 0
	for _, t := range truthTerms {
		if _, ok := answerTerms[t]; ok {
			shared++
		}
	}
	score := float64(shared) / float64(len(truthTerms))

	var links []string
	for _, g := range e.tables.Synonyms {
		if tt, at, ok := linkGroup(g, truth, ans); ok {
			score += e.tables.SemanticBonus
			links = append(links, tt+"~"+at)
		}
	}
	score = round3(math.Min(score, 1.0))

	grade, isMatch := e.grade(score)
	reason := fmt.Sprintf("%s: %d/%d terms", grade, shared, len(truthTerms))
	if len(links) > 0 {
		reason += " + synonyms " + strings.Join(links, ", ")
	}
	return models.MatchVerdict{IsMatch: isMatch, Reason: reason, Confidence: score, Grade: grade}
}

func (e *Evaluator) grade(score float64) (string, bool) {
	th := e.tables.Thresholds
	switch {
	case score >= th.Excellent:
		return models.GradeExcellent, true
	case score >= th.Good:
		return models.GradeGood, true
	case score >= th.Acceptable:
		return models.GradeAcceptable, true
	case score >= th.Weak:
		return models.GradeWeak, false
	default:
		return models.GradeNone, false
	}
}

// linkGroup returns the first truth-side and answer-side terms of g found
// in the normalized texts.
func linkGroup(g SynonymGroup, truth, answer string) (string, string, bool) {
	tt, ok := firstPhrase(truth, g.Truth)
	if !ok {
		return "", "", false
	}
	at, ok := firstPhrase(answer, g.Answer)
	if !ok {
		return "", "", false
	}
	return tt, at, true
}

// firstPhrase returns the first phrase that occurs in text on word boundaries.
func firstPhrase(text string, phrases []string) (string, bool) {
	padded := " " + text + " "
	for _, p := range phrases {
		n := Normalize(p)
		if n != "" && strings.Contains(padded, " "+n+" ") {
			return n, true
		}
	}
	return "", false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
