package alerting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/helpdesk-relay/internal/crm"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// TicketCategory is the helpdesk category set on alert tickets
const TicketCategory = "System Alert"

// LoggingHandler writes alerts to the application log
type LoggingHandler struct {
	logger *logging.Logger
}

// NewLoggingHandler creates a new logging alert handler
func NewLoggingHandler() *LoggingHandler {
	return &LoggingHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert logs the alert at a level matching its severity
func (h *LoggingHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"category", string(alert.Category),
		"environment", alert.Environment,
		"server", alert.ServerName,
		"request_count", alert.Breach.Stats.RequestCount,
		"error_count", alert.Breach.Stats.ErrorCount,
	}

	if req := alert.Breach.Request; req != nil {
		fields = append(fields, "http_method", req.Method, "http_path", req.Path, "http_status", req.StatusCode)
	}
	if res := alert.Breach.Resources; res != nil {
		fields = append(fields, "memory_ratio", res.MemoryRatio, "cpu_ratio", res.CPURatio)
	}

	switch alert.Severity {
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	default:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingHandler) Name() string {
	return "logging"
}

// TicketCreator is the part of the helpdesk client used for alert tickets
type TicketCreator interface {
	GetOrCreateContact(ctx context.Context, input crm.ContactInput) (*crm.Contact, error)
	CreateTicket(ctx context.Context, contactID string, input crm.TicketInput) (*crm.Ticket, error)
}

// TicketHandler files each alert as a helpdesk ticket against a fixed
// operations contact.
type TicketHandler struct {
	client  TicketCreator
	contact crm.ContactInput
	logger  *logging.Logger
}

// NewTicketHandler creates a handler that raises tickets for contact
func NewTicketHandler(client TicketCreator, contact crm.ContactInput) *TicketHandler {
	return &TicketHandler{
		client:  client,
		contact: contact,
		logger:  logging.GetLogger(),
	}
}

// HandleAlert resolves the operations contact and opens the alert ticket
func (h *TicketHandler) HandleAlert(ctx context.Context, alert Alert) error {
	contact, err := h.client.GetOrCreateContact(ctx, h.contact)
	if err != nil {
		return fmt.Errorf("failed to resolve alert contact: %w", err)
	}

	ticket, err := h.client.CreateTicket(ctx, contact.ID, crm.TicketInput{
		Subject:     alert.Title,
		Description: alert.Description,
		Priority:    priorityFor(alert.Severity),
		Status:      crm.StatusOpen,
		Category:    TicketCategory,
	})
	if err != nil {
		return fmt.Errorf("failed to create alert ticket: %w", err)
	}

	h.logger.LogAlertEvent(ctx, "alert_delivered", string(alert.Category), logrus.Fields{
		"alert_id":      alert.ID,
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
	})
	return nil
}

// Name returns the name of the handler
func (h *TicketHandler) Name() string {
	return "helpdesk_ticket"
}

func priorityFor(severity Severity) string {
	if severity >= SeverityError {
		return crm.PriorityHigh
	}
	return crm.PriorityMedium
}
