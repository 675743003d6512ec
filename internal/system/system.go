// Package system manages component lifecycles: services register in start
// order and are stopped in reverse on shutdown.
package system

import (
	"context"
	"fmt"

	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// Service represents a lifecycle-managed component. All application modules
// must implement this interface so the system manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
	log      *logger.Logger
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{log: logger.NewDefault("system")}
}

// Register appends a service. Registration order is start order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start starts every registered service. On the first failure the services
// already started are stopped in reverse before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		m.log.WithField("service", svc.Name()).Info("starting service")
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to start")
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop stops all started services in reverse order. Stop errors are logged
// and do not abort the remaining shutdowns.
func (m *Manager) Stop(ctx context.Context) {
	m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.log.WithField("service", svc.Name()).Info("stopping service")
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Warn("service stop failed")
		}
	}
	m.started = nil
}
