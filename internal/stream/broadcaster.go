// Package stream fans out progress events from running evaluations to
// any number of WebSocket or SSE subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types published over a job's stream.
const (
	EventConnected      = "connected"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventCompleted      = "completed"
	EventFailed         = "failed"
	EventHeartbeat      = "heartbeat"
)

// Event is one message on a job's progress stream.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage,omitempty"`
	Progress  int       `json:"progress"`
	Preview   string    `json:"preview,omitempty"`
	Tokens    *Tokens   `json:"tokens,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Tokens is the per-event token accounting attached to stage completions.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Subscription is one listener on a job's stream. Events arrive on C;
// Done is closed when the subscription is removed. C itself is never
// closed, because publishers may still be sending when the listener
// leaves; readers select on both.
type Subscription struct {
	C     chan Event
	done  chan struct{}
	jobID string
}

// Done reports subscription removal. After it is closed no further
// events arrive on C.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

const subscriptionBuffer = 16

// Broadcaster routes events to per-job subscriber sets. Delivery happens
// outside the lock; a subscriber whose channel is full loses the event
// rather than blocking the pipeline.
type Broadcaster struct {
	mu          sync.Mutex
	subs        map[string]map[*Subscription]struct{}
	lastPublish map[string]time.Time
	log         *zap.Logger

	now func() time.Time
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		subs:        make(map[string]map[*Subscription]struct{}),
		lastPublish: make(map[string]time.Time),
		log:         log,
		now:         time.Now,
	}
}

// Subscribe registers a listener for jobID's events.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		C:     make(chan Event, subscriptionBuffer),
		done:  make(chan struct{}),
		jobID: jobID,
	}
	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its done channel. Calling
// it twice is safe. The event channel stays open so that a Publish
// racing the removal lands on a buffered channel instead of a closed
// one.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	set, ok := b.subs[sub.jobID]
	if ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			close(sub.done)
		}
		if len(set) == 0 {
			delete(b.subs, sub.jobID)
		}
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber of jobID. The subscriber
// snapshot is taken under the lock; sends happen outside it.
func (b *Broadcaster) Publish(jobID string, ev Event) {
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.Lock()
	b.lastPublish[jobID] = b.now()
	targets := make([]*Subscription, 0, len(b.subs[jobID]))
	for sub := range b.subs[jobID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
			// Left between the snapshot and the send.
		case sub.C <- ev:
		default:
			b.log.Warn("dropping event for slow subscriber",
				zap.String("job_id", jobID),
				zap.String("type", ev.Type))
		}
	}
}

// Forget drops the idle-tracking entry for a finished job so the
// heartbeat stops considering it.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	delete(b.lastPublish, jobID)
	b.mu.Unlock()
}

// SubscriberCount returns how many listeners jobID currently has.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Heartbeat publishes a heartbeat event every interval to jobs that are
// in flight but have not produced an event within the interval, keeping
// idle connections alive during long model calls. inflight reports the
// job IDs still being processed. Runs until the context is cancelled.
func (b *Broadcaster) Heartbeat(ctx context.Context, interval time.Duration, inflight func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.beat(inflight(), interval)
		}
	}
}

func (b *Broadcaster) beat(jobIDs []string, idleAfter time.Duration) {
	now := b.now()
	for _, id := range jobIDs {
		b.mu.Lock()
		last, seen := b.lastPublish[id]
		b.mu.Unlock()
		if seen && now.Sub(last) < idleAfter {
			continue
		}
		b.Publish(id, Event{Type: EventHeartbeat, Timestamp: now})
	}
}
