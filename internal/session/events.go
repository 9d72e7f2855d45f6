package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// EventType names what changed in a session.
type EventType string

const (
	EventState      EventType = "state"
	EventTick       EventType = "tick"
	EventLocks      EventType = "locks"
	EventThreshold  EventType = "threshold"
	EventAutoSubmit EventType = "auto_submit"
	EventQueued     EventType = "queued"
	EventResult     EventType = "result"
	EventSynced     EventType = "synced"
	EventError      EventType = "error"
)

// Event is one observable session change.
type Event struct {
	Type      EventType `json:"type"`
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

type StatePayload struct {
	State  model.SessionState `json:"state"`
	Notice string             `json:"notice,omitempty"`
}

type TickPayload struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

type ThresholdPayload struct {
	Threshold        int `json:"threshold"`
	SecondsRemaining int `json:"seconds_remaining"`
}

type QueuedPayload struct {
	EnqueuedAtMillis int64 `json:"enqueued_at_millis"`
}

type SyncedPayload struct {
	Result    *model.ExamResult `json:"result,omitempty"`
	Duplicate bool              `json:"duplicate"`
	// StillPending counts this student's submissions that remain queued.
	StillPending int `json:"still_pending"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Notifier receives session events in order. Notify must not call back into the
// machine that emitted the event.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
