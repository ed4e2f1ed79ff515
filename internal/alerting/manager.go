package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// Handler delivers an alert to one destination
type Handler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// ManagerConfig identifies the deployment in alert text
type ManagerConfig struct {
	Environment string
	ServerName  string
	StartedAt   time.Time
}

// Manager turns breaches into alerts and routes them to every handler
type Manager struct {
	config   ManagerConfig
	handlers []Handler
	mutex    sync.RWMutex
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager creates a new alert manager
func NewManager(config ManagerConfig) *Manager {
	if config.StartedAt.IsZero() {
		config.StartedAt = time.Now()
	}

	return &Manager{
		config: config,
		logger: logging.GetLogger(),
		now:    time.Now,
	}
}

// AddHandler adds an alert handler
func (m *Manager) AddHandler(handler Handler) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.handlers = append(m.handlers, handler)
	m.logger.Info("Alert handler added", "handler", handler.Name())
}

// Dispatch builds the alert for breach and sends it to every handler. A
// failing handler does not stop the others. The returned error is the
// AlertDispatchFailure of the last handler that failed, so a lost ticket is
// reported even when the log handler succeeded.
func (m *Manager) Dispatch(ctx context.Context, breach Breach) error {
	alert := m.BuildAlert(breach)

	m.mutex.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mutex.RUnlock()

	m.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"category", string(alert.Category),
		"title", alert.Title,
	)

	var lastErr error
	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			dispatchErr := errors.NewAlertDispatchError(string(alert.Category), handler.Name()).WithCause(err)
			m.logger.LogError(ctx, dispatchErr, "Alert handler failed", logrus.Fields{
				"handler":  handler.Name(),
				"alert_id": alert.ID,
			})
			lastErr = dispatchErr
		}
	}

	return lastErr
}

// BuildAlert renders the title and diagnostic description for breach
func (m *Manager) BuildAlert(breach Breach) Alert {
	now := m.now()
	if breach.DetectedAt.IsZero() {
		breach.DetectedAt = now
	}

	return Alert{
		ID:          uuid.New().String(),
		Category:    breach.Category,
		Severity:    SeverityFor(breach.Category),
		Title:       fmt.Sprintf("[ALERT][%s] %s", m.config.Environment, titleFor(breach)),
		Description: describe(breach, m.config, now.Sub(m.config.StartedAt)),
		Environment: m.config.Environment,
		ServerName:  m.config.ServerName,
		Timestamp:   now,
		Breach:      breach,
	}
}
