// Package agent routes conversational utterances: classify the intent, then
// dispatch to semantic search, profile-grounded inquiry, or a casual reply.
package agent

import "context"

// Intent is the classified purpose of an utterance.
type Intent string

const (
	IntentSearch  Intent = "search"
	IntentInquiry Intent = "inquiry"
	IntentCasual  Intent = "casual"
)

// Classification is the classifier's verdict.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Classifier labels an utterance. Implementations must be deterministic for
// the same input and respect the caller's deadline.
type Classifier interface {
	Classify(ctx context.Context, utterance string, referencedIDs []int64) (Classification, error)
}

// Answerer produces a grounded answer from a question and supporting
// documents; the LLM collaborator behind the inquiry path.
type Answerer interface {
	Answer(ctx context.Context, question string, groundingDocs []string) (string, error)
}
