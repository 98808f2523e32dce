package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	events  []Event
	handled chan Event
	block   chan struct{} // when non-nil, each call waits on it
	ctxErr  []error
	err     error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{handled: make(chan Event, 100)}
}

func (h *recordingHandler) HandleInboundDirectMessage(ctx context.Context, ev Event) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.ctxErr = append(h.ctxErr, ctx.Err())
	h.mu.Unlock()
	h.handled <- ev
	return h.err
}

func TestNewQueue_Defaults(t *testing.T) {
	if _, err := NewQueue(QueueOpts{}); err == nil {
		t.Fatal("expected error without handler")
	}
	q, err := NewQueue(QueueOpts{Handler: newRecordingHandler()})
	if err != nil {
		t.Fatal(err)
	}
	if q.workers != DefaultWorkers || cap(q.events) != DefaultQueueSize || q.eventTimeout != DefaultEventTimeout {
		t.Errorf("defaults = %d/%d/%v", q.workers, cap(q.events), q.eventTimeout)
	}
}

func TestQueue_SubmitDropsWhenFull(t *testing.T) {
	q, _ := NewQueue(QueueOpts{Handler: newRecordingHandler(), Capacity: 2})
	if !q.Submit(Event{ID: "1"}) || !q.Submit(Event{ID: "2"}) {
		t.Fatal("submits within capacity should succeed")
	}
	if q.Submit(Event{ID: "3"}) {
		t.Error("submit beyond capacity should be dropped")
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestQueue_ProcessesEvents(t *testing.T) {
	h := newRecordingHandler()
	h.err = errors.New("store down") // errors are logged, not fatal
	q, _ := NewQueue(QueueOpts{Handler: h, Workers: 3, Capacity: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	for i := 0; i < 5; i++ {
		q.Submit(Event{ID: string(rune('a' + i))})
	}
	for i := 0; i < 5; i++ {
		select {
		case <-h.handled:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 5 events handled", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestQueue_InFlightEventSurvivesShutdown(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	q, _ := NewQueue(QueueOpts{Handler: h, Workers: 1, Capacity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	q.Submit(Event{ID: "in-flight"})
	// Wait for the worker to take the event off the buffer.
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while an event was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after in-flight event finished")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 {
		t.Fatalf("handled = %d, want 1", len(h.events))
	}
	if h.ctxErr[0] != nil {
		t.Errorf("in-flight event saw cancelled context: %v", h.ctxErr[0])
	}
}

type panickingHandler struct{ calls chan struct{} }

func (p panickingHandler) HandleInboundDirectMessage(ctx context.Context, ev Event) error {
	p.calls <- struct{}{}
	panic("boom")
}

func TestQueue_WorkerSurvivesPanic(t *testing.T) {
	h := panickingHandler{calls: make(chan struct{}, 2)}
	q, _ := NewQueue(QueueOpts{Handler: h, Workers: 1, Capacity: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Submit(Event{ID: "1"})
	q.Submit(Event{ID: "2"})
	for i := 0; i < 2; i++ {
		select {
		case <-h.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker stopped after panic (handled %d)", i)
		}
	}
}
