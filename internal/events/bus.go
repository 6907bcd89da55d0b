// Package events is the in-process progress event bus.
//
// The scan and rollout engines publish UpdateEvents here; SSE connections
// and tests subscribe, either to one job or to everything. Publishes are
// serialized, which gives each subscriber the events of a job in publish
// order.
package events

import (
	"log/slog"
	"sync"

	"fotad.sh/internal/metrics"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block; an SSE connection hands the
// event to a buffered channel and returns.
type Handler func(UpdateEvent)

// Bus fans out UpdateEvents to per-job and global subscribers.
type Bus struct {
	// pubMu serializes deliveries so per-job ordering holds across
	// publishing goroutines. mu guards only the subscriber maps, so a
	// handler may unsubscribe itself without deadlocking.
	pubMu sync.Mutex

	mu         sync.Mutex
	jobSubs    map[string]map[int]Handler
	globalSubs map[int]Handler
	nextToken  int
	logger     *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		jobSubs:    make(map[string]map[int]Handler),
		globalSubs: make(map[int]Handler),
		logger:     slog.Default().With("component", "events"),
	}
}

var defaultBus = NewBus()

// Default returns the process-wide bus shared by the engines and the SSE
// gateway.
func Default() *Bus {
	return defaultBus
}

// Subscribe registers fn for all events of one job. The returned function
// removes the subscription; calling it more than once is harmless.
func (b *Bus) Subscribe(jobID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.nextToken
	b.nextToken++

	subs, ok := b.jobSubs[jobID]
	if !ok {
		subs = make(map[int]Handler)
		b.jobSubs[jobID] = subs
	}
	subs[token] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.jobSubs[jobID]; ok {
			delete(subs, token)
			if len(subs) == 0 {
				delete(b.jobSubs, jobID)
			}
		}
	}
}

// SubscribeAll registers fn for every event regardless of job.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.nextToken
	b.nextToken++
	b.globalSubs[token] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.globalSubs, token)
	}
}

// Publish delivers the event to the job's subscribers and to all global
// subscribers. A panicking handler is logged and skipped; it never breaks
// delivery to the others. A subscriber that unsubscribes concurrently may
// still see the event of an in-flight publish.
func (b *Bus) Publish(event UpdateEvent) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.jobSubs[event.JobID])+len(b.globalSubs))
	for _, fn := range b.jobSubs[event.JobID] {
		handlers = append(handlers, fn)
	}
	for _, fn := range b.globalSubs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		b.deliver(fn, event)
	}
}

func (b *Bus) deliver(fn Handler, event UpdateEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"type", event.Type,
				"job_id", event.JobID,
				"recovered", r)
		}
	}()
	fn(event)
}

// Cleanup drops all subscriptions scoped to jobID. Called when a job
// reaches a terminal state. Global subscribers are unaffected.
func (b *Bus) Cleanup(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobSubs, jobID)
}

// SubscriberCount reports how many handlers would see an event for jobID.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobSubs[jobID]) + len(b.globalSubs)
}
