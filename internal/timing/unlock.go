package timing

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// RestrictionWindow is how long restricted subjects stay locked: until this long
// before a scheduled end, or for this long after a practice start.
const RestrictionWindow = 90 * time.Minute

// ComputeUnlockSchedule reports, per restricted subject group, whether it is locked
// at `now` and how long until it unlocks.
//
// Scheduled exams lift restrictions once at most RestrictionWindow remains before
// EndTime, regardless of when the student started. Practice exams lift them once
// RestrictionWindow has elapsed since effectiveStart. Clock anomalies (a start in
// the future, or no start at all) keep restricted subjects locked.
func ComputeUnlockSchedule(exam *model.ExamDefinition, effectiveStart, now time.Time) model.UnlockSchedule {
	profile := ProfileOf(CanonicalStreamOf(exam.Stream))
	if profile == nil || len(profile.SubjectTimings) == 0 {
		return model.UnlockSchedule{AllUnlocked: true, Subjects: map[string]model.SubjectAccessRecord{}}
	}

	lift, remaining := restrictionState(exam, effectiveStart, now)

	out := model.UnlockSchedule{
		AllUnlocked: true,
		Subjects:    make(map[string]model.SubjectAccessRecord, len(profile.SubjectTimings)*2),
	}
	for _, st := range profile.SubjectTimings {
		rec := model.SubjectAccessRecord{SubjectName: string(st.Subject)}
		if st.UnlockDelayMinutes > 0 && !lift {
			rec.IsLocked = true
			rec.RemainingUnlockMillis = remaining.Milliseconds()
			out.AllUnlocked = false
		}
		for _, alias := range AliasesOf(st.Subject) {
			out.Subjects[alias] = rec
		}
	}
	return out
}

// restrictionState returns whether restrictions have lifted and, if not, how long
// until they do.
func restrictionState(exam *model.ExamDefinition, effectiveStart, now time.Time) (bool, time.Duration) {
	if exam.IsScheduled() && exam.EndTime != nil {
		untilEnd := exam.EndTime.Sub(now)
		if untilEnd <= RestrictionWindow {
			return true, 0
		}
		return false, nonNegative(exam.EndTime.Add(-RestrictionWindow).Sub(now))
	}

	if effectiveStart.IsZero() {
		return false, RestrictionWindow
	}
	elapsed := now.Sub(effectiveStart)
	if elapsed < 0 {
		return false, RestrictionWindow
	}
	if elapsed >= RestrictionWindow {
		return true, 0
	}
	return false, RestrictionWindow - elapsed
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
