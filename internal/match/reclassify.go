package match

import "github.com/haasonsaas/recallbench/pkg/models"

// Reclassify runs the secondary semantic-equivalence pass over a verdict.
// A near-miss whose ground truth and answer are linked by an equivalence
// group becomes a match. Matches and invalid answers are returned unchanged.
func (e *Evaluator) Reclassify(v models.MatchVerdict, groundTruth, answer string) models.MatchVerdict {
	if v.IsMatch || v.Grade == models.GradeInvalid || e.Invalid(answer) {
		return v
	}
	truth := Normalize(groundTruth)
	ans := e.NormalizeAnswer(answer)
	for _, g := range e.tables.Equivalences {
		if tt, at, ok := linkGroup(g, truth, ans); ok {
			return models.MatchVerdict{
				IsMatch:    true,
				Reason:     "semantic: " + tt + " ≈ " + at,
				Confidence: e.tables.ReclassifyConfidence,
				Grade:      models.GradeSemantic,
			}
		}
	}
	return v
}

// EvaluateEnhanced is Evaluate followed by Reclassify.
func (e *Evaluator) EvaluateEnhanced(groundTruth, answer string) models.MatchVerdict {
	return e.Reclassify(e.Evaluate(groundTruth, answer), groundTruth, answer)
}
