package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/offline"
	"github.com/stemsi/exstem-engine/internal/timing"
)

type machineKey struct {
	examID    uuid.UUID
	studentID int
}

// Manager owns the live machines of this process, one per (exam, student).
type Manager struct {
	ctx       context.Context
	deps      Deps
	cacheSize int
	log       zerolog.Logger

	mu       sync.Mutex
	machines map[machineKey]*Machine
}

// NewManager creates a manager whose machines share deps. Each machine gets its
// own unlock cache of cacheSize entries.
func NewManager(ctx context.Context, deps Deps, cacheSize int) *Manager {
	return &Manager{
		ctx:       ctx,
		deps:      deps,
		cacheSize: cacheSize,
		log:       deps.Log.With().Str("component", "session_manager").Logger(),
		machines:  make(map[machineKey]*Machine),
	}
}

// Get returns the machine for (examID, studentID), creating it at home if needed.
func (mg *Manager) Get(examID uuid.UUID, studentID int) *Machine {
	key := machineKey{examID: examID, studentID: studentID}

	mg.mu.Lock()
	defer mg.mu.Unlock()
	if m, ok := mg.machines[key]; ok {
		return m
	}

	deps := mg.deps
	deps.Unlocks = timing.NewUnlockCache(mg.cacheSize)
	m := NewMachine(mg.ctx, examID, studentID, deps)
	mg.machines[key] = m
	mg.log.Debug().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("live", len(mg.machines)).
		Msg("Session created")
	return m
}

// Lookup returns an existing machine without creating one.
func (mg *Manager) Lookup(examID uuid.UUID, studentID int) (*Machine, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.machines[machineKey{examID: examID, studentID: studentID}]
	return m, ok
}

// Len is the number of live machines.
func (mg *Manager) Len() int {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return len(mg.machines)
}

// ApplySyncReport fans the outcome of a queue drain out to the live machines it
// concerns. Students without a live machine read fresh state on their next Open.
func (mg *Manager) ApplySyncReport(ctx context.Context, report offline.SyncReport) {
	pending := make(map[machineKey]int)
	for _, f := range report.Failed {
		pending[machineKey{examID: f.Submission.ExamID, studentID: f.Submission.StudentID}]++
	}

	for _, s := range report.Synced {
		key := machineKey{examID: s.Submission.ExamID, studentID: s.Submission.StudentID}
		if m, ok := mg.Lookup(key.examID, key.studentID); ok {
			m.ApplySynced(ctx, s, pending[key])
		}
		delete(pending, key)
	}
	for key, n := range pending {
		if m, ok := mg.Lookup(key.examID, key.studentID); ok {
			m.NotifyPending(n)
		}
	}
	for _, r := range report.Rejected {
		if m, ok := mg.Lookup(r.Submission.ExamID, r.Submission.StudentID); ok {
			m.reportError(r.Err)
		}
	}
}

// Close stops every machine.
func (mg *Manager) Close() {
	mg.mu.Lock()
	machines := make([]*Machine, 0, len(mg.machines))
	for _, m := range mg.machines {
		machines = append(machines, m)
	}
	mg.machines = make(map[machineKey]*Machine)
	mg.mu.Unlock()

	for _, m := range machines {
		m.Close()
	}
	mg.log.Info().Int("closed", len(machines)).Msg("Sessions stopped")
}
