// Package offline holds completed exam submissions that could not reach the server
// and replays them once it is reachable again.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/kvstore"
	"github.com/stemsi/exstem-engine/internal/model"
	"golang.org/x/sync/singleflight"
)

// SubmitFunc replays one queued submission against the server.
type SubmitFunc func(ctx context.Context, sub model.QueuedSubmission) (*model.ExamResult, error)

// SyncedEntry is a submission the server has accepted. Result is nil when the
// server reported the submission as already recorded.
type SyncedEntry struct {
	Submission model.QueuedSubmission
	Result     *model.ExamResult
	Duplicate  bool
}

// FailedEntry is a submission that did not sync.
type FailedEntry struct {
	Submission model.QueuedSubmission
	Err        error
}

// SyncReport summarises one drain pass. Failed entries stay queued; Rejected ones
// were refused for good (ineligible, exam gone, attempts exhausted) and are dropped.
type SyncReport struct {
	Synced   []SyncedEntry
	Failed   []FailedEntry
	Rejected []FailedEntry
}

// Queue is the durable offline submission queue. The whole queue lives under one
// store key as a JSON list in insertion order.
type Queue struct {
	store  kvstore.Store
	key    string
	log    zerolog.Logger
	mu     sync.Mutex
	flight singleflight.Group
}

// NewQueue creates a queue persisted in store.
func NewQueue(store kvstore.Store, log zerolog.Logger) *Queue {
	return &Queue{
		store: store,
		key:   config.CacheKey.OfflineQueueKey(),
		log:   log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue appends sub. A pending entry for the same exam and student is replaced,
// so only the latest attempt per exam waits for replay.
func (q *Queue) Enqueue(ctx context.Context, sub model.QueuedSubmission) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.ExamID == sub.ExamID && e.StudentID == sub.StudentID {
			q.log.Info().
				Str("exam_id", e.ExamID.String()).
				Int("student_id", e.StudentID).
				Int64("replaced", e.EnqueuedAtMillis).
				Msg("Replacing pending offline submission")
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, sub)

	if err := q.save(ctx, kept); err != nil {
		return err
	}
	q.log.Info().
		Str("exam_id", sub.ExamID.String()).
		Int("student_id", sub.StudentID).
		Int("pending", len(kept)).
		Msg("Submission queued offline")
	return nil
}

// Pending returns the queued submissions in insertion order.
func (q *Queue) Pending(ctx context.Context) ([]model.QueuedSubmission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued submissions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// DrainAndSync replays every queued submission in insertion order. Concurrent calls
// share one pass. The queue lock is not held while submit runs, so sessions can
// keep enqueueing during a drain.
func (q *Queue) DrainAndSync(ctx context.Context, submit SubmitFunc) (SyncReport, error) {
	v, err, _ := q.flight.Do(config.WorkerKey.SyncDrainFlight, func() (any, error) {
		return q.drain(ctx, submit)
	})
	if err != nil {
		return SyncReport{}, err
	}
	return v.(SyncReport), nil
}

func (q *Queue) drain(ctx context.Context, submit SubmitFunc) (SyncReport, error) {
	var report SyncReport

	snapshot, err := q.Pending(ctx)
	if err != nil {
		return report, err
	}
	if len(snapshot) == 0 {
		return report, nil
	}

	var done []model.QueuedSubmission
	for _, sub := range snapshot {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, FailedEntry{Submission: sub, Err: err})
			continue
		}

		res, err := submit(ctx, sub)
		switch {
		case err == nil:
			report.Synced = append(report.Synced, SyncedEntry{Submission: sub, Result: res})
			done = append(done, sub)
		case errors.Is(err, examapi.ErrAlreadySubmitted):
			report.Synced = append(report.Synced, SyncedEntry{Submission: sub, Duplicate: true})
			done = append(done, sub)
		case isRefusal(err):
			q.log.Warn().Err(err).
				Str("exam_id", sub.ExamID.String()).
				Int("student_id", sub.StudentID).
				Msg("Offline submission rejected by server, dropping")
			report.Rejected = append(report.Rejected, FailedEntry{Submission: sub, Err: err})
			done = append(done, sub)
		default:
			if !examapi.IsTransient(err) {
				q.log.Error().Err(err).
					Str("exam_id", sub.ExamID.String()).
					Int("student_id", sub.StudentID).
					Msg("Offline submission failed, keeping it queued")
			}
			report.Failed = append(report.Failed, FailedEntry{Submission: sub, Err: err})
		}
	}

	if len(done) > 0 {
		if err := q.removeAll(ctx, done); err != nil {
			return report, err
		}
	}

	q.log.Info().
		Int("synced", len(report.Synced)).
		Int("failed", len(report.Failed)).
		Int("rejected", len(report.Rejected)).
		Msg("Offline queue drained")
	return report, nil
}

// isRefusal reports the server answers that settle a submission for good. Any
// other error keeps the entry queued.
func isRefusal(err error) bool {
	return errors.Is(err, examapi.ErrIneligible) ||
		errors.Is(err, examapi.ErrMaxAttempts) ||
		errors.Is(err, examapi.ErrExamNotFound)
}

// removeAll drops the given identities. Entries enqueued during the drain, including
// replacements for the same exam, are kept.
func (q *Queue) removeAll(ctx context.Context, done []model.QueuedSubmission) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := entries[:0]
outer:
	for _, e := range entries {
		for _, d := range done {
			if e.SameIdentity(d) && e.StudentID == d.StudentID {
				continue outer
			}
		}
		kept = append(kept, e)
	}
	return q.save(ctx, kept)
}

// load reads the queue. Entries that fail to decode are dropped and the cleaned
// list is written back; an unreadable list is treated as empty.
func (q *Queue) load(ctx context.Context) ([]model.QueuedSubmission, error) {
	var raw []json.RawMessage
	found, err := q.store.Get(ctx, q.key, &raw)
	if errors.Is(err, kvstore.ErrCorrupt) {
		q.log.Error().Err(err).Msg("Offline queue unreadable, discarding")
		if rmErr := q.store.Remove(ctx, q.key); rmErr != nil {
			return nil, fmt.Errorf("discard corrupt queue: %w", rmErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	if !found {
		return nil, nil
	}

	entries := make([]model.QueuedSubmission, 0, len(raw))
	dropped := 0
	for i, r := range raw {
		var sub model.QueuedSubmission
		if err := json.Unmarshal(r, &sub); err != nil {
			q.log.Error().Err(err).Int("index", i).Msg("Dropping corrupt offline submission")
			dropped++
			continue
		}
		entries = append(entries, sub)
	}
	if dropped > 0 {
		if err := q.save(ctx, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []model.QueuedSubmission) error {
	if len(entries) == 0 {
		if err := q.store.Remove(ctx, q.key); err != nil {
			return fmt.Errorf("clear offline queue: %w", err)
		}
		return nil
	}
	if err := q.store.Set(ctx, q.key, entries); err != nil {
		return fmt.Errorf("save offline queue: %w", err)
	}
	return nil
}
