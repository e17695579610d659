package models

// Question is a prompt with its reference answer, supplied by a question source.
type Question struct {
	// Index is the position of the question within its source (0-based).
	Index int `json:"index"`

	// Prompt is the question text sent to each strategy.
	Prompt string `json:"prompt"`

	// GroundTruth is the reference answer the produced answer is scored against.
	GroundTruth string `json:"ground_truth"`

	// Category groups questions for breakdown statistics (e.g. "episodic").
	Category string `json:"category,omitempty"`
}
