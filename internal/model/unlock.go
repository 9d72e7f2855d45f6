package model

// SubjectAccessRecord is the derived lock state of one subject at one instant.
type SubjectAccessRecord struct {
	SubjectName           string `json:"subject_name"`
	IsLocked              bool   `json:"is_locked"`
	RemainingUnlockMillis int64  `json:"remaining_unlock_millis"`
}

// UnlockSchedule maps every known subject spelling to its access record.
type UnlockSchedule struct {
	AllUnlocked bool                           `json:"all_unlocked"`
	Subjects    map[string]SubjectAccessRecord `json:"subjects"`
}

// Equal reports whether two schedules carry the same lock states and countdowns.
func (s UnlockSchedule) Equal(o UnlockSchedule) bool {
	if s.AllUnlocked != o.AllUnlocked || len(s.Subjects) != len(o.Subjects) {
		return false
	}
	for name, rec := range s.Subjects {
		other, ok := o.Subjects[name]
		if !ok || other != rec {
			return false
		}
	}
	return true
}

// SameLocks is like Equal but ignores the countdown values.
func (s UnlockSchedule) SameLocks(o UnlockSchedule) bool {
	if s.AllUnlocked != o.AllUnlocked || len(s.Subjects) != len(o.Subjects) {
		return false
	}
	for name, rec := range s.Subjects {
		other, ok := o.Subjects[name]
		if !ok || other.IsLocked != rec.IsLocked {
			return false
		}
	}
	return true
}
