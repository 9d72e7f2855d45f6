package timing

import (
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stemsi/exstem-engine/internal/model"
)

type unlockKey struct {
	examID      uuid.UUID
	startMillis int64
	minute      int64
}

type unlockEntry struct {
	schedule   model.UnlockSchedule
	computedAt time.Time
	// untilLift is the exact time left at computedAt before locked subjects open.
	untilLift time.Duration
}

// UnlockCache memoizes ComputeUnlockSchedule per (exam, start, minute). It is owned
// by whoever drives the countdown; there is no process-wide instance.
//
// A cached schedule is only reused while none of its locked subjects has reached its
// unlock instant, and its countdowns are re-based to the caller's `now`, so a hit is
// indistinguishable from a fresh computation.
type UnlockCache struct {
	entries *lru.Cache[unlockKey, unlockEntry]
}

// NewUnlockCache creates a cache holding at most size schedules.
func NewUnlockCache(size int) *UnlockCache {
	if size <= 0 {
		size = 64
	}
	c, _ := lru.New[unlockKey, unlockEntry](size)
	return &UnlockCache{entries: c}
}

// Compute returns the unlock schedule of exam at now.
func (c *UnlockCache) Compute(exam *model.ExamDefinition, effectiveStart, now time.Time) model.UnlockSchedule {
	scheduled := exam.IsScheduled() && exam.EndTime != nil
	if !scheduled && (effectiveStart.IsZero() || now.Before(effectiveStart)) {
		return ComputeUnlockSchedule(exam, effectiveStart, now)
	}

	key := unlockKey{
		examID:      exam.ID,
		startMillis: effectiveStart.UnixMilli(),
		minute:      now.Unix() / 60,
	}
	if e, ok := c.entries.Get(key); ok && !now.Before(e.computedAt) {
		if shifted, fresh := rebase(e, now); fresh {
			return shifted
		}
	}

	s := ComputeUnlockSchedule(exam, effectiveStart, now)
	_, untilLift := restrictionState(exam, effectiveStart, now)
	c.entries.Add(key, unlockEntry{schedule: s, computedAt: now, untilLift: untilLift})
	return s
}

// Purge drops every cached schedule.
func (c *UnlockCache) Purge() {
	c.entries.Purge()
}

// Len is the number of cached schedules.
func (c *UnlockCache) Len() int {
	return c.entries.Len()
}

// rebase shifts a cached schedule to now. The remaining time is derived from the
// exact duration and truncated to millis once, as ComputeUnlockSchedule does.
func rebase(e unlockEntry, now time.Time) (model.UnlockSchedule, bool) {
	if e.schedule.AllUnlocked {
		return e.schedule, true
	}
	left := e.untilLift - now.Sub(e.computedAt)
	if left <= 0 {
		return model.UnlockSchedule{}, false
	}
	millis := left.Milliseconds()
	out := model.UnlockSchedule{
		AllUnlocked: false,
		Subjects:    make(map[string]model.SubjectAccessRecord, len(e.schedule.Subjects)),
	}
	for name, rec := range e.schedule.Subjects {
		if rec.IsLocked {
			rec.RemainingUnlockMillis = millis
		}
		out.Subjects[name] = rec
	}
	return out, true
}
