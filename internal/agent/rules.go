package agent

import (
	"context"
	"fmt"
	"strings"
)

// RulesClassifier is the deterministic keyword classifier used when no LLM
// backend is configured. It is intentionally simple; the dispatcher treats it
// like any other Classifier.
type RulesClassifier struct{}

var searchCues = []string{
	"find", "looking for", "search", "recommend", "match me", "show me",
	"who is near", "introduce me", "any singles",
}

var inquiryCues = []string{
	"tell me about", "what does", "what is their", "does she", "does he",
	"do they", "how old", "where do they", "is this person", "about them",
}

func (RulesClassifier) Classify(_ context.Context, utterance string, referencedIDs []int64) (Classification, error) {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return Classification{Intent: IntentCasual, Confidence: 0.3, Reasoning: "empty utterance"}, nil
	}

	for _, cue := range inquiryCues {
		if strings.Contains(text, cue) {
			conf := 0.7
			if len(referencedIDs) > 0 {
				conf = 0.9
			}
			return Classification{Intent: IntentInquiry, Confidence: conf, Reasoning: "inquiry cue: " + cue}, nil
		}
	}
	// A question about a referenced user reads as inquiry even without a cue.
	if len(referencedIDs) > 0 && strings.Contains(text, "?") {
		return Classification{Intent: IntentInquiry, Confidence: 0.6, Reasoning: "question with referenced user"}, nil
	}

	for _, cue := range searchCues {
		if strings.Contains(text, cue) {
			return Classification{Intent: IntentSearch, Confidence: 0.8, Reasoning: "search cue: " + cue}, nil
		}
	}

	return Classification{Intent: IntentCasual, Confidence: 0.6, Reasoning: "no routing cue"}, nil
}

// TemplateAnswerer is the grounded-answer fallback without an LLM backend:
// it restates the question over the supplied documents.
type TemplateAnswerer struct{}

func (TemplateAnswerer) Answer(_ context.Context, question string, groundingDocs []string) (string, error) {
	if len(groundingDocs) == 0 {
		return "I don't have enough profile information to answer that.", nil
	}
	return fmt.Sprintf("Based on their profile: %s (asked: %s)", groundingDocs[0], question), nil
}
