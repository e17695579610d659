package match

import (
	"strings"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// Evidence reports whether the conversation itself supports groundTruth.
type Evidence interface {
	HasEvidence(question, groundTruth string) bool
}

// EvidenceFunc adapts a function to Evidence.
type EvidenceFunc func(question, groundTruth string) bool

// HasEvidence calls f.
func (f EvidenceFunc) HasEvidence(question, groundTruth string) bool {
	return f(question, groundTruth)
}

var (
	notMentionedPhrases = []string{"no specific mention", "haven't been specifically mentioned", "havent been specifically mentioned"}
	genericPhrases      = []string{"group collectively", "generally", "overall"}
	attributionPhrase   = "according to the knowledge graph"
)

// AnalyzeGap explains why answer missed groundTruth. A nil evidence source
// treats every not-mentioned answer as missing data.
func AnalyzeGap(question, groundTruth, answer string, evidence Evidence) models.GapAnalysis {
	lower := strings.ToLower(answer)

	switch {
	case containsAny(lower, notMentionedPhrases):
		if evidence != nil && evidence.HasEvidence(question, groundTruth) {
			return models.GapAnalysis{
				Type:        models.GapExtractionFailure,
				Explanation: "the conversation contains the answer but the response did not connect it",
			}
		}
		return models.GapAnalysis{
			Type:        models.GapMissingData,
			Explanation: "the answer is not present in the conversation",
		}
	case containsAny(lower, genericPhrases):
		return models.GapAnalysis{
			Type:        models.GapSpecificityLoss,
			Explanation: "the response gave a generic answer instead of specific details",
		}
	case strings.Contains(lower, attributionPhrase) && !strings.Contains(lower, strings.ToLower(strings.TrimSpace(groundTruth))):
		return models.GapAnalysis{
			Type:        models.GapSemanticDisconnect,
			Explanation: "the response found related information but missed the equivalent answer",
		}
	}
	return models.GapAnalysis{Type: models.GapUnknown, Explanation: "no recognised failure pattern"}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
