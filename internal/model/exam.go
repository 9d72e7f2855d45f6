package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the publication states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// ExamAvailability is the delivery mode of an exam.
type ExamAvailability string

const (
	// AvailabilityPractice exams are timed from the student's own start.
	AvailabilityPractice ExamAvailability = "practice"
	// AvailabilityScheduled exams share an absolute [start, end] window.
	AvailabilityScheduled ExamAvailability = "scheduled"
)

// ExamDefinition is the immutable definition of an exam for one attempt.
type ExamDefinition struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Stream          string           `json:"stream"`
	Availability    ExamAvailability `json:"exam_availability"`
	DurationMinutes int              `json:"exam_duration_minutes,omitempty"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	Subjects        []string         `json:"exam_subject"`
	TotalMarks      int              `json:"total_marks"`
	Reattempt       int              `json:"reattempt"`
	// MarkingRulePreview is resolved by the content side and only read by scorers.
	MarkingRulePreview json.RawMessage `json:"marking_rule_preview,omitempty"`
	Status             ExamStatus      `json:"status"`
}

// IsScheduled reports whether the exam runs in scheduled mode.
func (e *ExamDefinition) IsScheduled() bool {
	return e.Availability == AvailabilityScheduled
}

// HasWindow reports whether both scheduled bounds are present.
func (e *ExamDefinition) HasWindow() bool {
	return e.StartTime != nil && e.EndTime != nil
}

// MaxAttempts returns the number of attempts allowed; an unset reattempt means one.
func (e *ExamDefinition) MaxAttempts() int {
	if e.Reattempt < 1 {
		return 1
	}
	return e.Reattempt
}

// MarkingRule is the positive/negative marks per question.
type MarkingRule struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
}

// DefaultMarkingRule awards one mark per correct answer with no penalty.
var DefaultMarkingRule = MarkingRule{Positive: 1}

// Marking decodes MarkingRulePreview, falling back to DefaultMarkingRule.
func (e *ExamDefinition) Marking() MarkingRule {
	if len(e.MarkingRulePreview) == 0 {
		return DefaultMarkingRule
	}
	var rule MarkingRule
	if err := json.Unmarshal(e.MarkingRulePreview, &rule); err != nil || rule.Positive <= 0 {
		return DefaultMarkingRule
	}
	return rule
}

// ExamQuestion is one entry of an exam's answer key.
type ExamQuestion struct {
	QuestionKey   string `json:"q_id"`
	Subject       string `json:"subject"`
	CorrectAnswer string `json:"-"`
}
