package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/examapi"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/offline"
)

// ShutdownDrainTimeout bounds the last drain attempt on shutdown.
const ShutdownDrainTimeout = 10 * time.Second

// ReportSink receives the outcome of each drain.
type ReportSink interface {
	ApplySyncReport(ctx context.Context, report offline.SyncReport)
}

// SyncWorker replays the offline submission queue whenever connectivity returns.
type SyncWorker struct {
	queue   *offline.Queue
	api     examapi.Client
	sink    ReportSink
	online  func() bool
	trigger chan struct{}
	log     zerolog.Logger
}

// NewSyncWorker creates a new SyncWorker. online may be nil.
func NewSyncWorker(queue *offline.Queue, api examapi.Client, sink ReportSink, online func() bool, log zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		queue:   queue,
		api:     api,
		sink:    sink,
		online:  online,
		trigger: make(chan struct{}, 1),
		log:     log.With().Str("component", "sync_worker").Logger(),
	}
}

// Trigger asks for a drain. Requests made while one is pending collapse into it.
func (w *SyncWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			if w.online == nil || w.online() {
				// Last attempt before exit; whatever fails stays queued on disk.
				dctx, cancel := context.WithTimeout(context.Background(), ShutdownDrainTimeout)
				w.Sync(dctx)
				cancel()
			}
			w.log.Info().Msg("Worker stopped")
			return
		case <-w.trigger:
			w.Sync(ctx)
		}
	}
}

// Sync drains the queue once and hands the report to the sink.
func (w *SyncWorker) Sync(ctx context.Context) offline.SyncReport {
	report, err := w.queue.DrainAndSync(ctx, w.replay)
	if err != nil {
		w.log.Error().Err(err).Msg("Drain error")
		return report
	}
	if len(report.Synced)+len(report.Failed)+len(report.Rejected) == 0 {
		return report
	}

	if len(report.Failed) > 0 {
		w.log.Warn().
			Int("synced", len(report.Synced)).
			Int("failed", len(report.Failed)).
			Msg("Some offline submissions are still pending")
	} else {
		w.log.Info().Int("synced", len(report.Synced)).Msg("Offline submissions synced")
	}

	if w.sink != nil {
		w.sink.ApplySyncReport(ctx, report)
	}
	return report
}

func (w *SyncWorker) replay(ctx context.Context, q model.QueuedSubmission) (*model.ExamResult, error) {
	return w.api.SubmitResult(ctx, examapi.FromQueued(q))
}
