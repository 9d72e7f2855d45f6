package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/session"
)

func TestHubRoutesByExamAndStudent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	exam := uuid.New()

	mine, cancelMine := hub.Subscribe(exam, 1)
	defer cancelMine()
	other, cancelOther := hub.Subscribe(exam, 2)
	defer cancelOther()

	hub.Notify(session.Event{Type: session.EventTick, ExamID: exam, StudentID: 1})

	select {
	case ev := <-mine:
		if ev.Type != session.EventTick {
			t.Fatalf("got %q, want tick", ev.Type)
		}
	default:
		t.Fatal("subscriber did not receive its event")
	}
	select {
	case ev := <-other:
		t.Fatalf("other student received %+v", ev)
	default:
	}
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	exam := uuid.New()
	ch, cancel := hub.Subscribe(exam, 1)

	for i := 0; i < SubscriberBuffer*2; i++ {
		hub.Notify(session.Event{Type: session.EventTick, ExamID: exam, StudentID: 1})
	}
	if len(ch) != SubscriberBuffer {
		t.Fatalf("buffered %d events, want %d", len(ch), SubscriberBuffer)
	}

	cancel()
	cancel()
	if n := hub.Subscribers(exam, 1); n != 0 {
		t.Fatalf("subscribers after cancel = %d", n)
	}
	// Notify after cancel must not panic on the closed channel.
	hub.Notify(session.Event{Type: session.EventTick, ExamID: exam, StudentID: 1})
}
