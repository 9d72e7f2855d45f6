package timing

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultDurationMinutes applies when no rule yields a duration.
const DefaultDurationMinutes = 180

// DurationSource names the rule that produced a resolved duration.
type DurationSource string

const (
	SourceScheduledWindow DurationSource = "scheduled_window"
	SourceExplicit        DurationSource = "explicit"
	SourceStreamProfile   DurationSource = "stream_profile"
	SourceDefault         DurationSource = "default"
)

// Duration is a resolved exam duration together with the rule that produced it.
type Duration struct {
	Minutes int            `json:"minutes"`
	Source  DurationSource `json:"source"`
	Stream  string         `json:"stream"`
}

// ResolveDuration determines the total allowed duration of an exam. First match wins:
// the scheduled window, the explicit override, the stream profile, the default.
// A scheduled window shorter than a minute, or inverted, resolves to zero minutes.
// An unknown stream resolves to SourceDefault so callers can see the fallback.
func ResolveDuration(exam *model.ExamDefinition) Duration {
	stream := CanonicalStreamOf(exam.Stream)

	if exam.IsScheduled() && exam.HasWindow() {
		window := max(exam.EndTime.Sub(*exam.StartTime), 0)
		return Duration{Minutes: int(window / time.Minute), Source: SourceScheduledWindow, Stream: stream.String()}
	}

	if exam.DurationMinutes > 0 {
		return Duration{Minutes: exam.DurationMinutes, Source: SourceExplicit, Stream: stream.String()}
	}

	if p := ProfileOf(stream); p != nil && p.TotalDurationMinutes > 0 {
		return Duration{Minutes: p.TotalDurationMinutes, Source: SourceStreamProfile, Stream: stream.String()}
	}

	return Duration{Minutes: DefaultDurationMinutes, Source: SourceDefault, Stream: stream.String()}
}

// ResolveDurationMinutes returns the total allowed duration of an exam in minutes.
func ResolveDurationMinutes(exam *model.ExamDefinition) int {
	return ResolveDuration(exam).Minutes
}
