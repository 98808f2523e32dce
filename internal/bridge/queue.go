package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 256
	DefaultEventTimeout = time.Minute
)

// EventHandler processes one inbound direct message.
type EventHandler interface {
	HandleInboundDirectMessage(ctx context.Context, ev Event) error
}

// Queue decouples the transport's intake loop from bridge processing.
// Submit never blocks; a fixed pool of workers drains the buffer.
type Queue struct {
	handler      EventHandler
	events       chan Event
	workers      int
	eventTimeout time.Duration
}

// QueueOpts holds parameters for creating a Queue.
type QueueOpts struct {
	Handler      EventHandler
	Workers      int           // defaults to DefaultWorkers
	Capacity     int           // defaults to DefaultQueueSize
	EventTimeout time.Duration // defaults to DefaultEventTimeout
}

// NewQueue creates a Queue.
func NewQueue(opts QueueOpts) (*Queue, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("bridge: queue handler is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	timeout := opts.EventTimeout
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}
	return &Queue{
		handler:      opts.Handler,
		events:       make(chan Event, capacity),
		workers:      workers,
		eventTimeout: timeout,
	}, nil
}

// Submit enqueues ev without blocking. It returns false, and drops the
// event, when the queue is full.
func (q *Queue) Submit(ev Event) bool {
	select {
	case q.events <- ev:
		return true
	default:
		log.Warn().Str("event_id", ev.ID).Str("sender_id", ev.SenderID).
			Int("capacity", cap(q.events)).Msg("bridge: queue full, dropping event")
		return false
	}
}

// Len returns the number of events waiting.
func (q *Queue) Len() int { return len(q.events) }

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight event has finished. Events still buffered at shutdown are
// dropped.
func (q *Queue) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	if n := len(q.events); n > 0 {
		log.Warn().Int("dropped", n).Msg("bridge: queue stopped with pending events")
	}
	return err
}

func (q *Queue) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case ev := <-q.events:
			q.process(ctx, ev)
		}
	}
}

// process runs one event on a context that survives shutdown, so a relay
// that has started can persist its outcome.
func (q *Queue) process(ctx context.Context, ev Event) {
	evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.eventTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event_id", ev.ID).Interface("panic", r).Msg("bridge: event handler panicked")
		}
	}()

	if err := q.handler.HandleInboundDirectMessage(evCtx, ev); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Str("sender_id", ev.SenderID).
			Msg("bridge: event dropped")
	}
}
