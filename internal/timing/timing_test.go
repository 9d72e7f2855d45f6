package timing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func practiceExam(stream string, minutes int) *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              uuid.New(),
		Stream:          stream,
		Availability:    model.AvailabilityPractice,
		DurationMinutes: minutes,
	}
}

func scheduledExam(stream string, start, end time.Time) *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:           uuid.New(),
		Stream:       stream,
		Availability: model.AvailabilityScheduled,
		StartTime:    ptr(start),
		EndTime:      ptr(end),
	}
}

func TestCanonicalStreamOf(t *testing.T) {
	tests := []struct {
		raw  string
		want Stream
	}{
		{"NEET", StreamNEET},
		{"  neet ug ", StreamNEET},
		{"NEET Repeaters Batch", StreamNEET},
		{"JEE Main", StreamJEE},
		{"jee advanced", StreamJEE},
		{"IIT-JEE Foundation", StreamJEE},
		{"MHT-CET", StreamMHTCET},
		{"mht cet", StreamMHTCET},
		{"Maharashtra CET PCM", StreamMHTCET},
		{"JEE CET combined", StreamJEE},
		{"CUET", StreamMHTCET},
		{"Olympiad", StreamUnknown},
		{"", StreamUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			if got := CanonicalStreamOf(tc.raw); got != tc.want {
				t.Fatalf("CanonicalStreamOf(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestCanonicalSubjectOf(t *testing.T) {
	tests := []struct {
		raw    string
		want   Subject
		wantOK bool
	}{
		{"Maths", SubjectMathematics, true},
		{"math", SubjectMathematics, true},
		{"Botany", SubjectBiology, true},
		{"ZOOLOGY", SubjectBiology, true},
		{"Physics", SubjectPhysics, true},
		{"History", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := CanonicalSubjectOf(tc.raw)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("CanonicalSubjectOf(%q) = %q,%v, want %q,%v", tc.raw, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestResolveDuration(t *testing.T) {
	tests := []struct {
		name       string
		exam       *model.ExamDefinition
		wantMin    int
		wantSource DurationSource
	}{
		{
			name: "scheduled window wins over explicit",
			exam: func() *model.ExamDefinition {
				e := scheduledExam("NEET", t0, t0.Add(150*time.Minute+59*time.Second))
				e.DurationMinutes = 200
				return e
			}(),
			wantMin:    150,
			wantSource: SourceScheduledWindow,
		},
		{
			name:       "explicit override",
			exam:       practiceExam("NEET", 75),
			wantMin:    75,
			wantSource: SourceExplicit,
		},
		{
			name:       "stream profile by substring",
			exam:       practiceExam("neet mock 4", 0),
			wantMin:    200,
			wantSource: SourceStreamProfile,
		},
		{
			name:       "jee profile",
			exam:       practiceExam("JEE Main", 0),
			wantMin:    180,
			wantSource: SourceStreamProfile,
		},
		{
			name:       "unknown stream falls back to default",
			exam:       practiceExam("Olympiad", 0),
			wantMin:    DefaultDurationMinutes,
			wantSource: SourceDefault,
		},
		{
			name: "scheduled without end uses explicit",
			exam: &model.ExamDefinition{
				Stream:          "MHT-CET",
				Availability:    model.AvailabilityScheduled,
				StartTime:       ptr(t0),
				DurationMinutes: 120,
			},
			wantMin:    120,
			wantSource: SourceExplicit,
		},
		{
			name: "sub-minute window is authoritative",
			exam: func() *model.ExamDefinition {
				e := scheduledExam("MHT-CET", t0, t0.Add(30*time.Second))
				e.DurationMinutes = 120
				return e
			}(),
			wantMin:    0,
			wantSource: SourceScheduledWindow,
		},
		{
			name:       "inverted window floors at zero",
			exam:       scheduledExam("MHT-CET", t0, t0.Add(-time.Hour)),
			wantMin:    0,
			wantSource: SourceScheduledWindow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveDuration(tc.exam)
			if got.Minutes != tc.wantMin || got.Source != tc.wantSource {
				t.Fatalf("got %d (%s), want %d (%s)", got.Minutes, got.Source, tc.wantMin, tc.wantSource)
			}
			if ResolveDurationMinutes(tc.exam) != tc.wantMin {
				t.Fatalf("ResolveDurationMinutes disagrees with ResolveDuration")
			}
		})
	}
}

func TestUnlockScheduledBoundary(t *testing.T) {
	end := t0.Add(180 * time.Minute)
	exam := scheduledExam("MHT-CET", t0, end)

	tests := []struct {
		name          string
		untilEnd      time.Duration
		wantLocked    bool
		wantRemaining int64
	}{
		{"start of exam", 180 * time.Minute, true, (90 * time.Minute).Milliseconds()},
		{"one second before unlock", 90*time.Minute + time.Second, true, 1000},
		{"exactly 90 minutes left", 90 * time.Minute, false, 0},
		{"after unlock", 30 * time.Minute, false, 0},
		{"exam already ended", -5 * time.Minute, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := end.Add(-tc.untilEnd)
			s := ComputeUnlockSchedule(exam, t0, now)
			for _, name := range []string{"Biology", "Bio", "Botany", "Zoology", "Mathematics", "Maths", "Math"} {
				rec, ok := s.Subjects[name]
				if !ok {
					t.Fatalf("missing record for %s", name)
				}
				if rec.IsLocked != tc.wantLocked {
					t.Fatalf("%s locked = %v, want %v", name, rec.IsLocked, tc.wantLocked)
				}
				if rec.RemainingUnlockMillis != tc.wantRemaining {
					t.Fatalf("%s remaining = %d, want %d", name, rec.RemainingUnlockMillis, tc.wantRemaining)
				}
			}
			if s.Subjects["Physics"].IsLocked || s.Subjects["Chemistry"].IsLocked {
				t.Fatalf("physics/chemistry must never lock")
			}
			if s.AllUnlocked == tc.wantLocked {
				t.Fatalf("AllUnlocked = %v with locked = %v", s.AllUnlocked, tc.wantLocked)
			}
		})
	}
}

func TestUnlockScheduledIgnoresStudentStart(t *testing.T) {
	end := t0.Add(180 * time.Minute)
	exam := scheduledExam("MHT-CET", t0, end)

	// Student joins 10 minutes before the end.
	studentStart := end.Add(-10 * time.Minute)
	s := ComputeUnlockSchedule(exam, studentStart, studentStart)
	if !s.AllUnlocked {
		t.Fatalf("late starter must see every subject unlocked")
	}
	if s.Subjects["Maths"].IsLocked || s.Subjects["Biology"].IsLocked {
		t.Fatalf("restricted subjects locked for late starter")
	}
}

func TestUnlockPracticeIsAbsoluteNinetyMinutes(t *testing.T) {
	for _, minutes := range []int{120, 180, 240} {
		exam := practiceExam("MHT-CET", minutes)

		before := ComputeUnlockSchedule(exam, t0, t0.Add(89*time.Minute+59*time.Second))
		if !before.Subjects["Mathematics"].IsLocked {
			t.Fatalf("%d-minute exam unlocked before 90 minutes", minutes)
		}
		if got := before.Subjects["Mathematics"].RemainingUnlockMillis; got != 1000 {
			t.Fatalf("remaining = %d, want 1000", got)
		}

		at := ComputeUnlockSchedule(exam, t0, t0.Add(90*time.Minute))
		if at.Subjects["Mathematics"].IsLocked || !at.AllUnlocked {
			t.Fatalf("%d-minute exam still locked at 90 minutes", minutes)
		}
	}
}

func TestUnlockPracticeClockAnomaliesStayLocked(t *testing.T) {
	exam := practiceExam("MHT-CET", 180)

	skewed := ComputeUnlockSchedule(exam, t0, t0.Add(-10*time.Minute))
	if !skewed.Subjects["Biology"].IsLocked {
		t.Fatalf("negative elapsed must stay locked")
	}
	if got := skewed.Subjects["Biology"].RemainingUnlockMillis; got != RestrictionWindow.Milliseconds() {
		t.Fatalf("negative elapsed remaining = %d, want full window", got)
	}

	unset := ComputeUnlockSchedule(exam, time.Time{}, t0)
	if unset.AllUnlocked {
		t.Fatalf("missing start must stay locked")
	}
}

func TestUnlockNonRestrictedStreams(t *testing.T) {
	for _, stream := range []string{"NEET", "JEE Main", "jee advanced"} {
		for _, offset := range []time.Duration{-time.Hour, 0, time.Minute, 89 * time.Minute, 5 * time.Hour} {
			exam := practiceExam(stream, 0)
			if s := ComputeUnlockSchedule(exam, t0, t0.Add(offset)); !s.AllUnlocked {
				t.Fatalf("%s locked at offset %v", stream, offset)
			}
			sched := scheduledExam(stream, t0, t0.Add(3*time.Hour))
			if s := ComputeUnlockSchedule(sched, t0, t0.Add(offset)); !s.AllUnlocked {
				t.Fatalf("scheduled %s locked at offset %v", stream, offset)
			}
		}
	}

	unknown := ComputeUnlockSchedule(practiceExam("Olympiad", 60), t0, t0)
	if !unknown.AllUnlocked || len(unknown.Subjects) != 0 {
		t.Fatalf("unknown stream should be unrestricted with no records, got %+v", unknown)
	}
}

func TestSecondsRemainingPractice(t *testing.T) {
	exam := practiceExam("NEET", 200)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at start", t0, 12000},
		{"one second left", t0.Add(199*time.Minute + 59*time.Second), 1},
		{"sub-second left floors to zero", t0.Add(199*time.Minute + 59*time.Second + 500*time.Millisecond), 0},
		{"at end", t0.Add(200 * time.Minute), 0},
		{"long after end", t0.Add(10 * time.Hour), 0},
		{"clock behind start", t0.Add(-time.Minute), 12000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SecondsRemaining(exam, t0, tc.now); got != tc.want {
				t.Fatalf("SecondsRemaining = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSecondsRemainingScheduledDecreasesToZero(t *testing.T) {
	end := t0.Add(time.Hour)
	exam := scheduledExam("JEE", t0, end)

	prev := SecondsRemaining(exam, time.Time{}, t0.Add(-time.Second))
	for now := t0; !now.After(end.Add(5 * time.Second)); now = now.Add(time.Second) {
		got := SecondsRemaining(exam, now, now)
		if got < 0 {
			t.Fatalf("negative remaining at %v", now)
		}
		if now.Before(end) && got >= prev {
			t.Fatalf("remaining did not decrease at %v: %d -> %d", now, prev, got)
		}
		if !now.Before(end) && got != 0 {
			t.Fatalf("remaining = %d at/after end", got)
		}
		prev = got
	}
}

func TestUnlockCacheMatchesPureFunction(t *testing.T) {
	cache := NewUnlockCache(8)
	practice := practiceExam("MHT-CET", 180)
	end := t0.Add(180 * time.Minute)
	scheduled := scheduledExam("MHT-CET", t0, end)

	for step := 0; step < 200*60; step += 7 {
		now := t0.Add(time.Duration(step) * time.Second)
		for _, exam := range []*model.ExamDefinition{practice, scheduled} {
			want := ComputeUnlockSchedule(exam, t0, now)
			got := cache.Compute(exam, t0, now)
			if !got.Equal(want) {
				t.Fatalf("cache diverged at +%ds for %s: got %+v want %+v", step, exam.Availability, got, want)
			}
		}
	}
	if cache.Len() == 0 {
		t.Fatalf("cache never stored anything")
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Fatalf("Purge left %d entries", cache.Len())
	}
}

func TestUnlockCacheRebaseKeepsSubMillisecondPrecision(t *testing.T) {
	exam := practiceExam("MHT-CET", 180)
	start := t0.Add(300 * time.Microsecond)

	cache := NewUnlockCache(8)
	first := t0.Add(10*time.Minute + 900*time.Microsecond)
	cache.Compute(exam, start, first)

	for _, offset := range []time.Duration{
		1500 * time.Microsecond,
		2*time.Second + 700*time.Microsecond,
		17*time.Second + 999*time.Microsecond,
	} {
		now := first.Add(offset)
		want := ComputeUnlockSchedule(exam, start, now)
		got := cache.Compute(exam, start, now)
		if !got.Equal(want) {
			t.Fatalf("at +%s: cached %+v, fresh %+v", offset, got, want)
		}
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d entries, want 1 reused entry", cache.Len())
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Fatalf("Purge left %d entries", cache.Len())
	}
}
