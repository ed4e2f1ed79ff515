package submissions

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/NikhilSetiya/helpdesk-relay/internal/crm"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/tracing"
)

// Kind identifies the form a submission came from
type Kind string

const (
	KindContact Kind = "contact"
	KindJob     Kind = "job"
	KindTicket  Kind = "ticket"
)

// Ticket categories per form
const (
	CategoryContact = "Contact Form"
	CategoryJob     = "Job Application"
	CategorySupport = "Support"
)

// Submission is one visitor form post
type Submission struct {
	Kind    Kind
	Name    string
	Email   string
	Phone   string
	Subject string
	Message string

	// Job applications
	Position     string
	PortfolioURL string
	LinkedInURL  string

	// Support tickets
	OrderNumber string
	Product     string
	Priority    string
}

// Result identifies the records created for a submission
type Result struct {
	Kind         Kind   `json:"kind"`
	ContactID    string `json:"contact_id"`
	TicketID     string `json:"ticket_id"`
	TicketNumber string `json:"ticket_number,omitempty"`
}

// HelpdeskClient is the part of crm.Client used to relay submissions
type HelpdeskClient interface {
	GetOrCreateContact(ctx context.Context, input crm.ContactInput) (*crm.Contact, error)
	CreateTicket(ctx context.Context, contactID string, input crm.TicketInput) (*crm.Ticket, error)
}

// Service relays form submissions into the helpdesk
type Service struct {
	client   HelpdeskClient
	contacts singleflight.Group
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracing  *tracing.TracingService
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics counts submissions by kind and outcome
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracing wraps each submission in a span
func WithTracing(ts *tracing.TracingService) Option {
	return func(s *Service) {
		s.tracing = ts
	}
}

// NewService creates a submission service
func NewService(client HelpdeskClient, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit validates sub, resolves its contact and opens a ticket for it.
// Concurrent submissions for the same email share one contact lookup.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	var result *Result
	var err error

	if s.tracing != nil {
		spanCtx, span := s.tracing.StartSubmissionSpan(ctx, string(sub.Kind))
		result, err = s.submit(spanCtx, sub)
		if err != nil {
			s.tracing.RecordError(span, err)
		}
		span.End()
	} else {
		result, err = s.submit(ctx, sub)
	}

	switch {
	case err == nil:
		s.metrics.RecordSubmission(string(sub.Kind), "success")
	case errors.IsType(err, errors.ErrorTypeValidation):
		s.metrics.RecordSubmission(string(sub.Kind), "invalid")
	default:
		s.metrics.RecordSubmission(string(sub.Kind), "failed")
		s.metrics.RecordError("submissions", string(errors.GetType(err)))
	}

	return result, err
}

func (s *Service) submit(ctx context.Context, sub Submission) (*Result, error) {
	sub = normalize(sub)
	if err := Validate(sub); err != nil {
		return nil, err
	}

	contact, err := s.resolveContact(ctx, sub)
	if err != nil {
		s.logger.LogError(ctx, err, "Failed to resolve submission contact", logrus.Fields{
			"kind": string(sub.Kind),
		})
		return nil, err
	}

	ticket, err := s.client.CreateTicket(ctx, contact.ID, ticketFor(sub))
	if err != nil {
		s.logger.LogError(ctx, err, "Failed to create submission ticket", logrus.Fields{
			"kind":       string(sub.Kind),
			"contact_id": contact.ID,
		})
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"kind":          string(sub.Kind),
		"contact_id":    contact.ID,
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
	}).Info("Submission relayed")

	return &Result{
		Kind:         sub.Kind,
		ContactID:    contact.ID,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
	}, nil
}

// resolveContact collapses concurrent lookups for one email into a single
// helpdesk call so a new visitor is only created once.
func (s *Service) resolveContact(ctx context.Context, sub Submission) (*crm.Contact, error) {
	firstName, lastName := splitName(sub.Name)
	input := crm.ContactInput{
		Email:     sub.Email,
		FirstName: firstName,
		LastName:  lastName,
		Phone:     sub.Phone,
	}

	v, err, _ := s.contacts.Do(strings.ToLower(sub.Email), func() (interface{}, error) {
		return s.client.GetOrCreateContact(context.WithoutCancel(ctx), input)
	})
	if err != nil {
		return nil, err
	}
	return v.(*crm.Contact), nil
}

// Validate checks the fields every form requires plus the per-kind ones
func Validate(sub Submission) error {
	var missing []string

	switch sub.Kind {
	case KindContact, KindJob, KindTicket:
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown submission kind %q", sub.Kind))
	}

	if sub.Name == "" {
		missing = append(missing, "name")
	}
	if sub.Email == "" {
		missing = append(missing, "email")
	}
	if sub.Message == "" {
		missing = append(missing, "message")
	}
	if sub.Kind == KindJob && sub.Position == "" {
		missing = append(missing, "position")
	}
	if sub.Kind == KindTicket && sub.Subject == "" {
		missing = append(missing, "subject")
	}

	if len(missing) > 0 {
		return errors.NewValidationError("missing required fields").
			WithDetail("fields", strings.Join(missing, ","))
	}

	if addr, err := mail.ParseAddress(sub.Email); err != nil || addr.Address != sub.Email {
		return errors.NewValidationError("email address is not valid").
			WithDetail("fields", "email")
	}

	if sub.Kind == KindTicket && sub.Priority != "" {
		switch sub.Priority {
		case crm.PriorityHigh, crm.PriorityMedium, crm.PriorityLow:
		default:
			return errors.NewValidationError(fmt.Sprintf("unknown priority %q", sub.Priority)).
				WithDetail("fields", "priority")
		}
	}

	return nil
}

func normalize(sub Submission) Submission {
	sub.Name = strings.Join(strings.Fields(sub.Name), " ")
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Phone = strings.TrimSpace(sub.Phone)
	sub.Subject = strings.TrimSpace(sub.Subject)
	sub.Message = strings.TrimSpace(sub.Message)
	sub.Position = strings.TrimSpace(sub.Position)
	sub.PortfolioURL = strings.TrimSpace(sub.PortfolioURL)
	sub.LinkedInURL = strings.TrimSpace(sub.LinkedInURL)
	sub.OrderNumber = strings.TrimSpace(sub.OrderNumber)
	sub.Product = strings.TrimSpace(sub.Product)
	sub.Priority = strings.TrimSpace(sub.Priority)
	return sub
}

// splitName puts the last word in the last name, which the helpdesk requires
func splitName(name string) (string, string) {
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func ticketFor(sub Submission) crm.TicketInput {
	input := crm.TicketInput{
		Description: describe(sub),
		Priority:    crm.PriorityMedium,
		Status:      crm.StatusOpen,
	}

	switch sub.Kind {
	case KindContact:
		input.Category = CategoryContact
		input.Subject = "Website inquiry"
		if sub.Subject != "" {
			input.Subject += ": " + sub.Subject
		}
	case KindJob:
		input.Category = CategoryJob
		input.Subject = "Job application: " + sub.Position
		input.CustomFields = appendField(input.CustomFields, "Position", sub.Position)
		input.CustomFields = appendField(input.CustomFields, "Portfolio", sub.PortfolioURL)
		input.CustomFields = appendField(input.CustomFields, "LinkedIn", sub.LinkedInURL)
	case KindTicket:
		input.Category = CategorySupport
		input.Subject = sub.Subject
		if sub.Priority != "" {
			input.Priority = sub.Priority
		}
		input.CustomFields = appendField(input.CustomFields, "Order Number", sub.OrderNumber)
		input.CustomFields = appendField(input.CustomFields, "Product", sub.Product)
	}

	return input
}

func appendField(fields []crm.CustomField, name, value string) []crm.CustomField {
	if value == "" {
		return fields
	}
	return append(fields, crm.CustomField{Name: name, Value: value})
}

func describe(sub Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", sub.Name)
	fmt.Fprintf(&b, "Email: %s\n", sub.Email)
	if sub.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", sub.Phone)
	}
	b.WriteString("\n")
	b.WriteString(sub.Message)
	return b.String()
}
