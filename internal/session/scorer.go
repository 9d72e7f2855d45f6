package session

import (
	"context"
	"math"
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Scorer grades a finished attempt.
type Scorer interface {
	Score(ctx context.Context, exam *model.ExamDefinition, answers map[string]string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, exam *model.ExamDefinition, answers map[string]string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, exam *model.ExamDefinition, answers map[string]string) (float64, error) {
	return f(ctx, exam, answers)
}

// ScoreAgainstKey marks answers with rule. Blank answers score zero; wrong ones
// cost |rule.Negative|. Comparison ignores case and surrounding space.
func ScoreAgainstKey(key, answers map[string]string, rule model.MarkingRule) float64 {
	var score float64
	for qid, correct := range key {
		given := strings.TrimSpace(answers[qid])
		if given == "" {
			continue
		}
		if strings.EqualFold(given, strings.TrimSpace(correct)) {
			score += rule.Positive
		} else {
			score -= math.Abs(rule.Negative)
		}
	}
	return score
}
