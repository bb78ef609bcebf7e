package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitToTypeAndWildcard(t *testing.T) {
	eb := NewEventBus(testLogger())

	var sent, all int32
	eb.On(EventReplySent, func(e Event) {
		if e.Payload["to"] != "+1" {
			t.Errorf("unexpected payload %v", e.Payload)
		}
		atomic.AddInt32(&sent, 1)
	})
	eb.On("*", func(Event) { atomic.AddInt32(&all, 1) })

	eb.Emit(Event{Type: EventReplySent, Source: "pipeline", Payload: map[string]any{"to": "+1"}})
	eb.Emit(Event{Type: EventMessageReceived})

	if atomic.LoadInt32(&sent) != 1 || atomic.LoadInt32(&all) != 2 {
		t.Errorf("expected sent=1 all=2, got sent=%d all=%d", sent, all)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testLogger())

	var a, b int32
	idA := eb.On(EventMessageFailed, func(Event) { atomic.AddInt32(&a, 1) })
	idB := eb.On(EventMessageFailed, func(Event) { atomic.AddInt32(&b, 1) })
	if idA == idB {
		t.Fatal("handler ids must be unique")
	}

	eb.Emit(Event{Type: EventMessageFailed})
	eb.Off(EventMessageFailed, idA)
	eb.Emit(Event{Type: EventMessageFailed})

	if atomic.LoadInt32(&a) != 1 || atomic.LoadInt32(&b) != 2 {
		t.Errorf("expected a=1 b=2, got a=%d b=%d", a, b)
	}
}

func TestEventBus_ReplayByTypeAndTime(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: EventMessageReceived, Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventMessageReceived})
	eb.Emit(Event{Type: EventReplySent})

	if got := len(eb.Replay(EventMessageReceived, time.Time{})); got != 2 {
		t.Errorf("expected 2 received events, got %d", got)
	}
	if got := len(eb.Replay("*", threshold)); got != 2 {
		t.Errorf("expected 2 events since threshold, got %d", got)
	}
}

func TestEventBus_HistoryBounded(t *testing.T) {
	eb := NewEventBusWithHistory(5, testLogger())
	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventCommandExecuted, Payload: map[string]any{"n": i}})
	}
	if eb.HistoryLen() != 5 {
		t.Fatalf("expected 5, got %d", eb.HistoryLen())
	}
	if first := eb.Replay("*", time.Time{})[0]; first.Payload["n"] != 5 {
		t.Errorf("expected oldest retained n=5, got %v", first.Payload["n"])
	}

	none := NewEventBusWithHistory(0, testLogger())
	none.Emit(Event{Type: "x"})
	if none.HistoryLen() != 0 {
		t.Error("zero history must record nothing")
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On(EventReplyFailed, func(Event) { panic("listener bug") })
	eb.On(EventReplyFailed, func(Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventReplyFailed})
	if atomic.LoadInt32(&after) != 1 {
		t.Error("a panicking handler must not stop later handlers")
	}
}

func TestEventBus_EmitAsync(t *testing.T) {
	eb := NewEventBus(testLogger())

	done := make(chan struct{})
	eb.On(EventConnectorConnected, func(Event) { close(done) })
	eb.EmitAsync(Event{Type: EventConnectorConnected})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}
