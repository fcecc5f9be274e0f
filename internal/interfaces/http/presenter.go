package http

import (
	"commercebot/internal/usecases"
	"strconv"
	"strings"
)

const (
	confidenceDelimiter = ":::"

	// NoConfidence marks a reply that carried no usable score.
	NoConfidence = -1
)

// SplitConfidence separates the answer from a trailing ":::<score>" some
// system prompts ask the model to emit. Scores outside 0..100, non-numeric
// scores and the -1 sentinel all come back as NoConfidence.
func SplitConfidence(text string) (string, int) {
	i := strings.LastIndex(text, confidenceDelimiter)
	if i < 0 {
		return strings.TrimSpace(text), NoConfidence
	}
	answer := strings.TrimSpace(text[:i])
	score, err := strconv.Atoi(strings.TrimSpace(text[i+len(confidenceDelimiter):]))
	if err != nil || score < 0 || score > 100 {
		return answer, NoConfidence
	}
	return answer, score
}

type replyView struct {
	Answer     string `json:"answer"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning,omitempty"`
	Credits    int    `json:"credits_charged"`
}

func presentReply(out usecases.GenerateOutput) replyView {
	answer, confidence := SplitConfidence(out.Text)
	return replyView{
		Answer:     answer,
		Confidence: confidence,
		Reasoning:  out.Reasoning,
		Credits:    out.CreditsCharged,
	}
}
