package gdpr

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ExportSink stores a rendered export document and returns an opaque content
// handle the subject can redeem out-of-band. Object-storage adapters live
// outside the core; the memory sink backs tests and single-node deployments.
type ExportSink interface {
	Put(ctx context.Context, userID int64, doc []byte) (handle string, err error)
}

// MemorySink keeps exports in process memory, keyed by handle.
type MemorySink struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{docs: make(map[string][]byte)}
}

// Put stores doc under a fresh random handle.
func (s *MemorySink) Put(_ context.Context, _ int64, doc []byte) (string, error) {
	handle := uuid.NewString()
	cp := make([]byte, len(doc))
	copy(cp, doc)
	s.mu.Lock()
	s.docs[handle] = cp
	s.mu.Unlock()
	return handle, nil
}

// Get redeems a handle. The second result is false for unknown handles.
func (s *MemorySink) Get(handle string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[handle]
	return doc, ok
}
