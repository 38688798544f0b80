// Package system defines the service lifecycle contract and a manager that
// starts registered services in order and stops them in reverse.
package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/engagehub/maintenance-core/pkg/logger"
)

// Service is a long-running component with an explicit lifecycle. Start must
// return promptly, launching background work on its own goroutines; Stop
// blocks until the work drains or ctx expires.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager owns a set of services and their start order.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register appends a service. Registration order is start order.
func (m *Manager) Register(svc Service) {
	if svc == nil {
		return
	}
	m.mu.Lock()
	m.services = append(m.services, svc)
	m.mu.Unlock()
}

// Start starts every registered service in order. On the first failure it
// stops the services already started, in reverse, and returns the error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, svc := range m.services {
		m.log.Infof("starting %s", svc.Name())
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).Errorf("start %s failed", svc.Name())
			m.stopStartedLocked(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop stops started services in reverse order. Every service gets a Stop
// call even when an earlier one fails; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStartedLocked(ctx)
}

func (m *Manager) stopStartedLocked(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.log.Infof("stopping %s", svc.Name())
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).Errorf("stop %s failed", svc.Name())
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	m.started = nil
	return firstErr
}
