package timing

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// SecondsRemaining is the exam countdown at `now`, never negative.
//
// Scheduled exams count down to EndTime. Practice exams count the resolved duration
// from effectiveStart; a start that is unset or in the future counts as no time used.
func SecondsRemaining(exam *model.ExamDefinition, effectiveStart, now time.Time) int {
	var left time.Duration
	if exam.IsScheduled() && exam.EndTime != nil {
		left = exam.EndTime.Sub(now)
	} else {
		total := time.Duration(ResolveDurationMinutes(exam)) * time.Minute
		var elapsed time.Duration
		if !effectiveStart.IsZero() {
			elapsed = now.Sub(effectiveStart)
		}
		if elapsed < 0 {
			elapsed = 0
		}
		left = total - elapsed
	}
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// ElapsedSeconds is how long the student has been working on the exam.
func ElapsedSeconds(effectiveStart, now time.Time) int {
	if effectiveStart.IsZero() || now.Before(effectiveStart) {
		return 0
	}
	return int(now.Sub(effectiveStart) / time.Second)
}
