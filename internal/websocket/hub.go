package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/session"
)

// SubscriberBuffer is the per-connection event backlog. A connection that falls
// further behind loses events; the next tick carries the full countdown again.
const SubscriberBuffer = 64

type hubKey struct {
	examID    uuid.UUID
	studentID int
}

type subscriber struct {
	ch chan session.Event
}

// Hub fans session events out to the WebSocket connections of the same
// (exam, student). It implements session.Notifier.
type Hub struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[hubKey]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log.With().Str("component", "ws_hub").Logger(),
		subs: make(map[hubKey]map[*subscriber]struct{}),
	}
}

var _ session.Notifier = (*Hub)(nil)

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(examID uuid.UUID, studentID int) (<-chan session.Event, func()) {
	key := hubKey{examID: examID, studentID: studentID}
	sub := &subscriber{ch: make(chan session.Event, SubscriberBuffer)}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscriber]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], sub)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Notify delivers ev to every listener of its (exam, student) without blocking.
func (h *Hub) Notify(ev session.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[hubKey{examID: ev.ExamID, studentID: ev.StudentID}] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Debug().
				Str("exam_id", ev.ExamID.String()).
				Int("student_id", ev.StudentID).
				Str("type", string(ev.Type)).
				Msg("Subscriber lagging, event dropped")
		}
	}
}

// Subscribers is the number of listeners for (examID, studentID).
func (h *Hub) Subscribers(examID uuid.UUID, studentID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[hubKey{examID: examID, studentID: studentID}])
}
