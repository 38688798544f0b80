// Package remote performs rate-limited integrity checks against the remote
// social service. The core never establishes sessions itself; it receives
// opaque session handles from the external auth layer.
package remote

import (
	"context"
	"sync"
)

// Validator answers existence and engagement questions about the remote
// service. A false result with a nil error is authoritative (the target does
// not exist); failures that may heal are surfaced as transient errors and
// must not drive state transitions.
type Validator interface {
	ProbePost(ctx context.Context, url string) (bool, error)
	ProbeLikeByUser(ctx context.Context, session, url string) (bool, error)
	ProbeFollow(ctx context.Context, session, targetUser string) (bool, error)
}

// Static is a canned validator for tests and development composition.
// Unknown targets exist by default so fixtures only list the interesting
// cases.
type Static struct {
	mu      sync.RWMutex
	posts   map[string]bool
	likes   map[string]bool
	follows map[string]bool
	err     error
	calls   int
}

var _ Validator = (*Static)(nil)

// NewStatic creates an empty static validator.
func NewStatic() *Static {
	return &Static{
		posts:   make(map[string]bool),
		likes:   make(map[string]bool),
		follows: make(map[string]bool),
	}
}

// SetPost pins the probe answer for a post URL.
func (s *Static) SetPost(url string, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[url] = exists
}

// SetLike pins the probe answer for (session, url).
func (s *Static) SetLike(session, url string, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes[session+"|"+url] = liked
}

// SetFollow pins the probe answer for (session, target).
func (s *Static) SetFollow(session, target string, follows bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows[session+"|"+target] = follows
}

// Fail makes every probe return err until cleared with Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of probes served.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) answer(m map[string]bool, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	if v, ok := m[key]; ok {
		return v, nil
	}
	return true, nil
}

func (s *Static) ProbePost(_ context.Context, url string) (bool, error) {
	return s.answer(s.posts, url)
}

func (s *Static) ProbeLikeByUser(_ context.Context, session, url string) (bool, error) {
	return s.answer(s.likes, session+"|"+url)
}

func (s *Static) ProbeFollow(_ context.Context, session, target string) (bool, error) {
	return s.answer(s.follows, session+"|"+target)
}
