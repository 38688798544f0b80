// Package notify carries notification intents out of the core. Emission is
// non-blocking; delivery belongs to the external transport.
package notify

import (
	"sync"

	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/metrics"
)

// Sink accepts notification intents. Emit must never block the caller.
type Sink interface {
	Emit(intent notification.Intent)
}

// ChannelSink buffers intents on a bounded channel and drops the oldest
// intent on overflow, counting every drop. An external dispatcher drains
// Intents.
type ChannelSink struct {
	mu      sync.Mutex
	ch      chan notification.Intent
	dropped uint64
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a sink with the given buffer capacity.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ChannelSink{ch: make(chan notification.Intent, capacity)}
}

// Emit enqueues the intent, evicting the oldest buffered intent when full.
func (s *ChannelSink) Emit(intent notification.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.ch <- intent:
			metrics.ObserveIntent(intent.Kind)
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
			metrics.ObserveIntentDropped()
		default:
		}
	}
}

// Intents exposes the buffered stream for the dispatcher.
func (s *ChannelSink) Intents() <-chan notification.Intent { return s.ch }

// Dropped returns the number of intents evicted so far.
func (s *ChannelSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Recorder captures every emitted intent; used by tests.
type Recorder struct {
	mu      sync.Mutex
	intents []notification.Intent
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(intent notification.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
}

// All returns a copy of every captured intent.
func (r *Recorder) All() []notification.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Intent(nil), r.intents...)
}

// ByKind returns captured intents of one kind.
func (r *Recorder) ByKind(kind string) []notification.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]notification.Intent, 0)
	for _, intent := range r.intents {
		if intent.Kind == kind {
			result = append(result, intent)
		}
	}
	return result
}
