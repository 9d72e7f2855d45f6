// Package session drives one student through one exam: eligibility, instructions,
// the countdown, submission (online or queued offline) and the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/kvstore"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/offline"
	"github.com/stemsi/exstem-engine/internal/scheduler"
	"github.com/stemsi/exstem-engine/internal/timing"
)

// Thresholds are the remaining-seconds marks that raise a one-time warning.
var Thresholds = []int{300, 60, 30, 10}

// Deps are the collaborators shared by every machine.
type Deps struct {
	API       examapi.Client
	Store     kvstore.Store
	Queue     *offline.Queue
	Scheduler scheduler.Scheduler
	Clock     scheduler.Clock
	Unlocks   *timing.UnlockCache
	Scorer    Scorer
	Notifier  Notifier
	// Online reports whether the results store is reachable. Nil means always.
	Online       func() bool
	TickInterval time.Duration
	// Grace is how long after a scheduled end a student may still open the exam
	// to hand in saved progress.
	Grace time.Duration
	Log   zerolog.Logger
}

func (d *Deps) withDefaults() {
	if d.Clock == nil {
		d.Clock = scheduler.RealClock{}
	}
	if d.Scheduler == nil {
		d.Scheduler = scheduler.NewRealScheduler()
	}
	if d.Unlocks == nil {
		d.Unlocks = timing.NewUnlockCache(0)
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.TickInterval <= 0 {
		d.TickInterval = time.Second
	}
}

// SubmitStatus says where a submission ended up.
type SubmitStatus string

const (
	SubmitRecorded  SubmitStatus = "recorded"
	SubmitDeferred  SubmitStatus = "deferred"
	SubmitDuplicate SubmitStatus = "duplicate"
	SubmitQueued    SubmitStatus = "queued"
)

// SubmitOutcome is returned by Submit.
type SubmitOutcome struct {
	Status SubmitStatus      `json:"status"`
	Result *model.ExamResult `json:"result,omitempty"`
}

// View is a read-only copy of a machine's state.
type View struct {
	ExamID           uuid.UUID             `json:"exam_id"`
	StudentID        int                   `json:"student_id"`
	State            model.SessionState    `json:"state"`
	Exam             *model.ExamDefinition `json:"exam,omitempty"`
	DurationMinutes  int                   `json:"duration_minutes,omitempty"`
	EffectiveStart   *time.Time            `json:"effective_start,omitempty"`
	SecondsRemaining int                   `json:"seconds_remaining"`
	Locks            *model.UnlockSchedule `json:"locks,omitempty"`
	Answers          map[string]string     `json:"answers,omitempty"`
	AttemptsSoFar    int                   `json:"attempts_so_far"`
	MaxAttempts      int                   `json:"max_attempts"`
	ResumeAvailable  bool                  `json:"resume_available"`
	Result           *model.ExamResult     `json:"result,omitempty"`
	Attempt          *model.Attempt        `json:"attempt,omitempty"`
	Notice           string                `json:"notice,omitempty"`
}

// Machine is the session of one student in one exam. All methods are safe for
// concurrent use; tick updates and network responses touch disjoint fields.
type Machine struct {
	examID    uuid.UUID
	studentID int
	deps      Deps
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	snapshotKey string

	mu         sync.Mutex
	dispatchMu sync.Mutex
	// persistMu orders snapshot writes against the submission claim. It is
	// always taken before mu and never held across a network call.
	persistMu  sync.Mutex
	outbox     []Event

	state           model.SessionState
	exam            *model.ExamDefinition
	attempts        []model.Attempt
	previous        *model.ExamResult
	detail          *model.Attempt
	notice          string
	resumeAvailable bool

	effectiveStart time.Time
	answers        map[string]string
	remaining      int
	locks          model.UnlockSchedule
	thresholdsSeen map[int]bool
	submitted      bool

	job        *scheduler.Job
	generation uint64
	closed     bool
}

// NewMachine creates a machine at home. ctx bounds background work such as
// auto-submission; Close cancels it.
func NewMachine(ctx context.Context, examID uuid.UUID, studentID int, deps Deps) *Machine {
	deps.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	return &Machine{
		examID:      examID,
		studentID:   studentID,
		deps:        deps,
		ctx:         ctx,
		cancel:      cancel,
		snapshotKey: config.CacheKey.ProgressSnapshotKey(examID.String(), studentID),
		log: deps.Log.With().
			Str("component", "exam_session").
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Logger(),
		state:          model.StateHome,
		thresholdsSeen: make(map[int]bool),
	}
}

// State returns the current state.
func (m *Machine) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns a copy of the machine's state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		ExamID:          m.examID,
		StudentID:       m.studentID,
		State:           m.state,
		Exam:            m.exam,
		AttemptsSoFar:   len(m.attempts),
		ResumeAvailable: m.resumeAvailable,
		Attempt:         m.detail,
		Notice:          m.notice,
	}
	if m.exam != nil {
		v.MaxAttempts = m.exam.MaxAttempts()
		v.DurationMinutes = timing.ResolveDurationMinutes(m.exam)
		if m.resultDisclosable(m.deps.Clock.Now()) {
			v.Result = m.previous
		}
	}
	if m.state == model.StateInProgress {
		start := m.effectiveStart
		locks := m.locks
		v.EffectiveStart = &start
		v.SecondsRemaining = m.remaining
		v.Locks = &locks
		v.Answers = maps.Clone(m.answers)
	}
	return v
}

// Open moves home → instructions after a fresh eligibility and attempt check.
func (m *Machine) Open(ctx context.Context) error {
	if err := m.expectState(model.StateHome); err != nil {
		return err
	}

	elig, err := m.deps.API.CheckEligibility(ctx, m.examID, m.studentID)
	if err != nil {
		m.reportError(err)
		return fmt.Errorf("check eligibility: %w", err)
	}
	if elig.Exam == nil {
		return examapi.ErrExamNotFound
	}
	if !elig.Eligible {
		m.log.Info().Str("reason", elig.Reason).Msg("Student not eligible")
		return examapi.ErrIneligible
	}
	exam := elig.Exam

	if err := m.checkWindow(exam, m.deps.Clock.Now()); err != nil {
		return err
	}

	attempts, err := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)
	if err != nil {
		m.reportError(err)
		return fmt.Errorf("get attempts: %w", err)
	}
	if len(attempts) >= exam.MaxAttempts() {
		m.mu.Lock()
		m.exam = exam
		m.attempts = attempts
		m.mu.Unlock()
		return examapi.ErrMaxAttempts
	}

	snap, err := m.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != model.StateHome {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.exam = exam
	m.attempts = attempts
	m.resumeAvailable = snap != nil
	m.notice = ""
	m.setState(model.StateInstructions)
	m.unlockAndFlush()
	return nil
}

// Cancel returns from instructions to home.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.state != model.StateInstructions {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.setState(model.StateHome)
	m.unlockAndFlush()
	return nil
}

// Start begins a fresh attempt. If saved progress exists the student must choose
// Resume or Restart instead.
func (m *Machine) Start(ctx context.Context) error {
	exam, err := m.beforeBegin(ctx)
	if err != nil {
		return err
	}
	snap, err := m.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		m.mu.Lock()
		m.resumeAvailable = true
		m.mu.Unlock()
		return ErrResumeDecisionRequired
	}
	now := m.deps.Clock.Now()
	if exam.IsScheduled() && exam.EndTime != nil && !now.Before(*exam.EndTime) {
		return ErrExamClosed
	}
	return m.begin(ctx, exam, now, map[string]string{})
}

// Resume continues from saved progress, keeping the original start instant. A
// missing or unreadable snapshot starts afresh.
func (m *Machine) Resume(ctx context.Context) error {
	exam, err := m.beforeBegin(ctx)
	if err != nil {
		return err
	}
	snap, err := m.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		m.log.Warn().Msg("No usable progress to resume, starting fresh")
		return m.begin(ctx, exam, m.deps.Clock.Now(), map[string]string{})
	}
	answers := snap.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	return m.begin(ctx, exam, snap.EffectiveStart, answers)
}

// Restart discards saved progress and begins a fresh attempt.
func (m *Machine) Restart(ctx context.Context) error {
	exam, err := m.beforeBegin(ctx)
	if err != nil {
		return err
	}
	if err := m.deps.Store.Remove(ctx, m.snapshotKey); err != nil {
		return fmt.Errorf("discard progress: %w", err)
	}
	now := m.deps.Clock.Now()
	if exam.IsScheduled() && exam.EndTime != nil && !now.Before(*exam.EndTime) {
		return ErrExamClosed
	}
	return m.begin(ctx, exam, now, map[string]string{})
}

// beforeBegin guards instructions → in_progress. The attempt count is re-read from
// the server because an offline sync may have landed since Open.
func (m *Machine) beforeBegin(ctx context.Context) (*model.ExamDefinition, error) {
	m.mu.Lock()
	if m.state != model.StateInstructions || m.exam == nil {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	exam := m.exam
	m.mu.Unlock()

	if err := m.checkWindow(exam, m.deps.Clock.Now()); err != nil {
		return nil, err
	}

	attempts, err := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)
	if err != nil {
		m.reportError(err)
		return nil, fmt.Errorf("get attempts: %w", err)
	}

	m.mu.Lock()
	m.attempts = attempts
	if len(attempts) >= exam.MaxAttempts() {
		m.setState(model.StateHome)
		m.unlockAndFlush()
		return nil, examapi.ErrMaxAttempts
	}
	m.mu.Unlock()
	return exam, nil
}

// begin enters in_progress anchored at start. Any previous countdown is cancelled
// before the new one is scheduled.
func (m *Machine) begin(ctx context.Context, exam *model.ExamDefinition, start time.Time, answers map[string]string) error {
	m.persistMu.Lock()
	m.mu.Lock()
	if m.state != model.StateInstructions || m.closed {
		m.mu.Unlock()
		m.persistMu.Unlock()
		return ErrInvalidTransition
	}
	m.mu.Unlock()

	now := m.deps.Clock.Now()
	snap := model.ProgressSnapshot{
		ExamID:         m.examID,
		StudentID:      m.studentID,
		EffectiveStart: start,
		Answers:        answers,
		SavedAt:        now,
	}
	if err := m.deps.Store.Set(ctx, m.snapshotKey, snap); err != nil {
		m.persistMu.Unlock()
		return fmt.Errorf("save progress: %w", err)
	}

	m.mu.Lock()
	if m.state != model.StateInstructions || m.closed {
		m.mu.Unlock()
		m.persistMu.Unlock()
		m.log.Warn().Msg("Session left instructions while progress was being saved")
		return ErrInvalidTransition
	}

	m.stopJobLocked()
	m.generation++
	gen := m.generation

	m.exam = exam
	m.effectiveStart = start
	m.answers = answers
	m.submitted = false
	m.resumeAvailable = false
	m.notice = ""
	m.detail = nil
	m.remaining = timing.SecondsRemaining(exam, start, now)
	m.locks = m.deps.Unlocks.Compute(exam, start, now)
	m.thresholdsSeen = make(map[int]bool, len(Thresholds))
	for _, th := range Thresholds {
		if th > m.remaining {
			m.thresholdsSeen[th] = true
		}
	}

	remaining := m.remaining
	m.setState(model.StateInProgress)
	m.emit(EventTick, TickPayload{SecondsRemaining: remaining})
	m.emit(EventLocks, m.locks)
	m.job = m.deps.Scheduler.Every(m.deps.TickInterval, func(t time.Time) {
		m.tick(gen, t)
	})
	m.persistMu.Unlock()
	m.unlockAndFlush()

	m.log.Info().
		Time("effective_start", start).
		Int("seconds_remaining", remaining).
		Msg("Exam in progress")

	m.tick(gen, now)
	return nil
}

// tick recomputes the countdown and subject locks. It ignores callbacks from a
// superseded countdown and fires the auto-submit once when time runs out.
func (m *Machine) tick(gen uint64, now time.Time) {
	m.mu.Lock()
	if gen != m.generation || m.state != model.StateInProgress || m.submitted {
		m.mu.Unlock()
		return
	}

	secs := timing.SecondsRemaining(m.exam, m.effectiveStart, now)
	if secs != m.remaining {
		m.remaining = secs
		m.emit(EventTick, TickPayload{SecondsRemaining: secs})
	}

	locks := m.deps.Unlocks.Compute(m.exam, m.effectiveStart, now)
	if !locks.SameLocks(m.locks) {
		m.emit(EventLocks, locks)
	}
	m.locks = locks

	for _, th := range Thresholds {
		if secs <= th && !m.thresholdsSeen[th] {
			m.thresholdsSeen[th] = true
			m.emit(EventThreshold, ThresholdPayload{Threshold: th, SecondsRemaining: secs})
		}
	}

	m.unlockAndFlush()
	if secs <= 0 {
		m.autoSubmit(gen)
	}
}

// autoSubmit claims and delivers the attempt once the countdown reaches zero. It
// waits for an in-flight answer save so the claim carries that answer.
func (m *Machine) autoSubmit(gen uint64) {
	m.persistMu.Lock()
	m.mu.Lock()
	if gen != m.generation || m.state != model.StateInProgress || m.submitted {
		m.mu.Unlock()
		m.persistMu.Unlock()
		return
	}
	claim, err := m.claimLocked()
	if err != nil {
		m.persistMu.Unlock()
		m.unlockAndFlush()
		return
	}
	m.emit(EventAutoSubmit, nil)
	m.persistMu.Unlock()
	m.unlockAndFlush()

	m.log.Info().Msg("Time is up, submitting automatically")
	if _, err := m.deliver(m.ctx, claim); err != nil {
		m.log.Error().Err(err).Msg("Automatic submission failed")
	}
}

// SaveAnswer records one answer and persists the progress snapshot. Saves are
// serialised among themselves but do not hold up ticks or reads while the store
// write is in flight.
func (m *Machine) SaveAnswer(ctx context.Context, questionID, answer string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.state != model.StateInProgress || m.submitted {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	gen := m.generation
	answers := maps.Clone(m.answers)
	answers[questionID] = answer
	snap := model.ProgressSnapshot{
		ExamID:         m.examID,
		StudentID:      m.studentID,
		EffectiveStart: m.effectiveStart,
		Answers:        answers,
		SavedAt:        m.deps.Clock.Now(),
	}
	m.mu.Unlock()

	if err := m.deps.Store.Set(ctx, m.snapshotKey, snap); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.state != model.StateInProgress || m.submitted {
		return ErrInvalidTransition
	}
	m.answers = answers
	return nil
}

// Submit hands the attempt in. The countdown stops immediately.
func (m *Machine) Submit(ctx context.Context) (*SubmitOutcome, error) {
	m.persistMu.Lock()
	m.mu.Lock()
	if m.state != model.StateInProgress {
		m.mu.Unlock()
		m.persistMu.Unlock()
		return nil, ErrInvalidTransition
	}
	claim, err := m.claimLocked()
	m.persistMu.Unlock()
	m.unlockAndFlush()
	if err != nil {
		return nil, err
	}
	return m.deliver(ctx, claim)
}

type submissionClaim struct {
	exam    *model.ExamDefinition
	start   time.Time
	answers map[string]string
}

// claimLocked takes the one-shot submission right and stops the countdown. A
// retake beyond the allowed attempts is refused here, before any network call.
func (m *Machine) claimLocked() (submissionClaim, error) {
	if m.submitted {
		return submissionClaim{}, ErrAlreadySubmitting
	}
	m.submitted = true
	m.stopJobLocked()

	if len(m.attempts) >= m.exam.MaxAttempts() {
		m.log.Warn().Int("attempts", len(m.attempts)).Msg("Submission refused, attempts exhausted")
		m.setState(model.StateHome)
		m.emit(EventError, ErrorPayload{Message: examapi.ErrMaxAttempts.Error()})
		return submissionClaim{}, examapi.ErrMaxAttempts
	}

	return submissionClaim{
		exam:    m.exam,
		start:   m.effectiveStart,
		answers: maps.Clone(m.answers),
	}, nil
}

// deliver submits a claimed attempt online, falling back to the offline queue on
// transient failures or when the results store is known to be unreachable.
func (m *Machine) deliver(ctx context.Context, c submissionClaim) (*SubmitOutcome, error) {
	now := m.deps.Clock.Now()
	taken := timing.ElapsedSeconds(c.start, now)
	if limit := timing.ResolveDurationMinutes(c.exam) * 60; !c.exam.IsScheduled() && taken > limit {
		taken = limit
	}

	var score float64
	if m.deps.Scorer != nil {
		s, err := m.deps.Scorer.Score(ctx, c.exam, c.answers)
		if err != nil {
			m.log.Warn().Err(err).Msg("Scoring failed, submitting without a score")
		} else {
			score = s
		}
	}

	sub := examapi.Submission{
		ExamID:           m.examID,
		StudentID:        m.studentID,
		Answers:          c.answers,
		Score:            score,
		TimeTakenSeconds: taken,
		CompletedAt:      now.UTC(),
		SubmissionKey:    now.UnixMilli(),
	}

	if m.deps.Online != nil && !m.deps.Online() {
		return m.enqueue(ctx, sub, nil)
	}

	res, err := m.deps.API.SubmitResult(ctx, sub)
	switch {
	case err == nil:
		return m.recorded(ctx, c.exam, res, SubmitRecorded)
	case errors.Is(err, examapi.ErrAlreadySubmitted):
		prev, perr := m.deps.API.GetPreviousResult(ctx, m.studentID, m.examID)
		if perr != nil {
			m.log.Warn().Err(perr).Msg("Could not fetch result after duplicate submission")
		}
		return m.recorded(ctx, c.exam, prev, SubmitDuplicate)
	case examapi.IsTransient(err):
		return m.enqueue(ctx, sub, err)
	default:
		m.log.Error().Err(err).Msg("Submission refused")
		m.mu.Lock()
		m.setState(model.StateHome)
		m.emit(EventError, ErrorPayload{Message: err.Error()})
		m.resumeAvailable = true
		m.unlockAndFlush()
		return nil, fmt.Errorf("submit result: %w", err)
	}
}

func (m *Machine) recorded(ctx context.Context, exam *model.ExamDefinition, res *model.ExamResult, status SubmitStatus) (*SubmitOutcome, error) {
	if err := m.deps.Store.Remove(ctx, m.snapshotKey); err != nil {
		m.log.Warn().Err(err).Msg("Could not clear progress after submission")
	}
	attempts, aerr := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)

	m.mu.Lock()
	if aerr == nil {
		m.attempts = attempts
	}
	if res != nil {
		m.previous = res
	}
	m.exam = exam

	now := m.deps.Clock.Now()
	if !m.resultDisclosable(now) {
		m.notice = NoticeResultAfterEnd
		m.setState(model.StateHome)
		m.unlockAndFlush()
		return &SubmitOutcome{Status: SubmitDeferred}, nil
	}

	m.emit(EventResult, m.previous)
	m.setState(model.StateResult)
	m.unlockAndFlush()
	return &SubmitOutcome{Status: status, Result: res}, nil
}

func (m *Machine) enqueue(ctx context.Context, sub examapi.Submission, cause error) (*SubmitOutcome, error) {
	q := model.QueuedSubmission{
		ExamID:           sub.ExamID,
		StudentID:        sub.StudentID,
		Answers:          sub.Answers,
		Score:            sub.Score,
		TimeTakenSeconds: sub.TimeTakenSeconds,
		CompletedAt:      sub.CompletedAt.Format(time.RFC3339Nano),
		EnqueuedAtMillis: sub.SubmissionKey,
	}
	if err := m.deps.Queue.Enqueue(ctx, q); err != nil {
		m.log.Error().Err(err).Msg("Could not queue submission offline")
		m.mu.Lock()
		m.setState(model.StateHome)
		m.resumeAvailable = true
		m.emit(EventError, ErrorPayload{Message: "submission could not be saved, progress kept"})
		m.unlockAndFlush()
		return nil, fmt.Errorf("queue submission: %w", err)
	}
	if err := m.deps.Store.Remove(ctx, m.snapshotKey); err != nil {
		m.log.Warn().Err(err).Msg("Could not clear progress after queueing")
	}

	ev := m.log.Info()
	if cause != nil {
		ev = ev.AnErr("cause", cause)
	}
	ev.Int64("enqueued_at_millis", q.EnqueuedAtMillis).Msg("Submission queued for sync")

	m.mu.Lock()
	m.notice = NoticeQueued
	m.emit(EventQueued, QueuedPayload{EnqueuedAtMillis: q.EnqueuedAtMillis})
	m.setState(model.StateHome)
	m.unlockAndFlush()
	return &SubmitOutcome{Status: SubmitQueued}, nil
}

// Back leaves result or attempt_detail for home. Attempts and the previous result
// are always re-read from the server.
func (m *Machine) Back(ctx context.Context) error {
	m.mu.Lock()
	if m.state != model.StateResult && m.state != model.StateAttemptDetail {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.mu.Unlock()

	refreshErr := m.Refresh(ctx)

	m.mu.Lock()
	if m.state != model.StateResult && m.state != model.StateAttemptDetail {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.detail = nil
	if refreshErr != nil {
		// Stale counts must not gate the next Open; it re-reads them anyway.
		m.attempts = nil
	}
	m.setState(model.StateHome)
	m.unlockAndFlush()
	return refreshErr
}

// Refresh re-reads attempts and the previous result from the server.
func (m *Machine) Refresh(ctx context.Context) error {
	attempts, err := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)
	if err != nil {
		m.reportError(err)
		return fmt.Errorf("get attempts: %w", err)
	}
	prev, err := m.deps.API.GetPreviousResult(ctx, m.studentID, m.examID)
	if err != nil {
		m.reportError(err)
		return fmt.Errorf("get previous result: %w", err)
	}

	m.mu.Lock()
	m.attempts = attempts
	m.previous = prev
	m.mu.Unlock()
	return nil
}

// ViewResult moves home → result with a freshly fetched result.
func (m *Machine) ViewResult(ctx context.Context) (*model.ExamResult, error) {
	if err := m.expectState(model.StateHome); err != nil {
		return nil, err
	}
	if err := m.ensureExam(ctx); err != nil {
		return nil, err
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != model.StateHome {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if m.previous == nil || !m.resultDisclosable(m.deps.Clock.Now()) {
		m.mu.Unlock()
		return nil, ErrResultNotAvailable
	}
	res := m.previous
	m.notice = ""
	m.setState(model.StateResult)
	m.unlockAndFlush()
	return res, nil
}

// ViewAttempt moves home → attempt_detail for one server-recorded attempt.
func (m *Machine) ViewAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	if err := m.expectState(model.StateHome); err != nil {
		return nil, err
	}
	attempts, err := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)
	if err != nil {
		m.reportError(err)
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	var found *model.Attempt
	for i := range attempts {
		if attempts[i].ID == attemptID {
			a := attempts[i]
			found = &a
			break
		}
	}
	if found == nil {
		return nil, ErrAttemptNotFound
	}

	m.mu.Lock()
	if m.state != model.StateHome {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	m.attempts = attempts
	m.detail = found
	m.setState(model.StateAttemptDetail)
	m.unlockAndFlush()
	return found, nil
}

// ApplySynced records the outcome of an offline replay for this student. A freshly
// synced result replaces whatever was cached before.
func (m *Machine) ApplySynced(ctx context.Context, entry offline.SyncedEntry, stillPending int) {
	res := entry.Result
	if res == nil {
		prev, err := m.deps.API.GetPreviousResult(ctx, m.studentID, m.examID)
		if err != nil {
			m.log.Warn().Err(err).Msg("Could not fetch result after sync")
		}
		res = prev
	}
	attempts, aerr := m.deps.API.GetAttempts(ctx, m.studentID, m.examID)

	m.mu.Lock()
	if res != nil {
		m.previous = res
	}
	if aerr == nil {
		m.attempts = attempts
	}
	if m.state == model.StateHome && m.notice == NoticeQueued {
		m.notice = NoticeSynced
	}
	payload := SyncedPayload{Duplicate: entry.Duplicate, StillPending: stillPending}
	if m.resultDisclosable(m.deps.Clock.Now()) {
		payload.Result = m.previous
	}
	m.emit(EventSynced, payload)
	m.unlockAndFlush()
}

// NotifyPending tells the student that queued submissions are still waiting.
func (m *Machine) NotifyPending(stillPending int) {
	m.mu.Lock()
	m.emit(EventSynced, SyncedPayload{StillPending: stillPending})
	m.unlockAndFlush()
}

// Close stops the countdown and cancels background work. Saved progress is kept.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopJobLocked()
	m.generation++
	m.mu.Unlock()
	m.cancel()
}

func (m *Machine) expectState(want model.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != want {
		return ErrInvalidTransition
	}
	return nil
}

// ensureExam loads the exam definition if the machine has not seen it yet.
func (m *Machine) ensureExam(ctx context.Context) error {
	m.mu.Lock()
	known := m.exam != nil
	m.mu.Unlock()
	if known {
		return nil
	}
	elig, err := m.deps.API.CheckEligibility(ctx, m.examID, m.studentID)
	if err != nil {
		m.reportError(err)
		return fmt.Errorf("check eligibility: %w", err)
	}
	if elig.Exam == nil {
		return examapi.ErrExamNotFound
	}
	m.mu.Lock()
	if m.exam == nil {
		m.exam = elig.Exam
	}
	m.mu.Unlock()
	return nil
}

// checkWindow refuses scheduled exams outside [start, end + grace].
func (m *Machine) checkWindow(exam *model.ExamDefinition, now time.Time) error {
	if !exam.IsScheduled() {
		return nil
	}
	if exam.StartTime != nil && now.Before(*exam.StartTime) {
		return ErrExamNotStarted
	}
	if exam.EndTime != nil && now.After(exam.EndTime.Add(m.deps.Grace)) {
		return ErrExamClosed
	}
	return nil
}

// resultDisclosable is false for scheduled exams until their end time.
func (m *Machine) resultDisclosable(now time.Time) bool {
	if m.exam == nil || !m.exam.IsScheduled() || m.exam.EndTime == nil {
		return true
	}
	return !now.Before(*m.exam.EndTime)
}

// loadSnapshot reads saved progress. Unreadable or mismatched snapshots are removed
// and reported as absent.
func (m *Machine) loadSnapshot(ctx context.Context) (*model.ProgressSnapshot, error) {
	var snap model.ProgressSnapshot
	found, err := m.deps.Store.Get(ctx, m.snapshotKey, &snap)
	if errors.Is(err, kvstore.ErrCorrupt) || (found && err == nil && !snapshotUsable(&snap, m.examID, m.studentID)) {
		m.log.Error().Err(err).Msg("Discarding unreadable progress snapshot")
		if rmErr := m.deps.Store.Remove(ctx, m.snapshotKey); rmErr != nil {
			return nil, fmt.Errorf("discard progress: %w", rmErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

func snapshotUsable(s *model.ProgressSnapshot, examID uuid.UUID, studentID int) bool {
	return !s.EffectiveStart.IsZero() && s.ExamID == examID && s.StudentID == studentID
}

func (m *Machine) reportError(err error) {
	m.log.Warn().Err(err).Msg("Server call failed")
	m.mu.Lock()
	m.emit(EventError, ErrorPayload{Message: err.Error()})
	m.unlockAndFlush()
}

func (m *Machine) stopJobLocked() {
	if m.job != nil {
		m.job.Stop()
		m.job = nil
	}
}

func (m *Machine) setState(s model.SessionState) {
	m.state = s
	m.emit(EventState, StatePayload{State: s, Notice: m.notice})
}

func (m *Machine) emit(t EventType, data any) {
	m.outbox = append(m.outbox, Event{
		Type:      t,
		ExamID:    m.examID,
		StudentID: m.studentID,
		At:        m.deps.Clock.Now(),
		Data:      data,
	})
}

// unlockAndFlush releases mu and delivers queued events. dispatchMu is taken before
// mu is released so events from concurrent callers keep their order.
func (m *Machine) unlockAndFlush() {
	events := m.outbox
	m.outbox = nil
	m.dispatchMu.Lock()
	m.mu.Unlock()
	defer m.dispatchMu.Unlock()
	for _, ev := range events {
		m.deps.Notifier.Notify(ev)
	}
}
