package crm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/resilience"
)

const (
	serviceName = "helpdesk"

	// maxResponseBytes bounds how much of an upstream body is read
	maxResponseBytes = 1 << 20
)

// TokenSource supplies the access token presented on every call
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a token the
// helpdesk rejected.
type invalidator interface {
	Invalidate()
}

// Config holds the tenant settings for the helpdesk API
type Config struct {
	BaseURL           string
	OrgID             string
	DepartmentID      string
	AuthScheme        string
	CustomFieldFormat string
	Timeout           time.Duration
}

// Client talks to the helpdesk contacts and tickets endpoints
type Client struct {
	config      Config
	tokens      TokenSource
	httpClient  *http.Client
	ticketRetry resilience.RetryConfig
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client, e.g. one with a tracing transport
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTicketRetryConfig overrides the ticket creation retry policy
func WithTicketRetryConfig(config resilience.RetryConfig) Option {
	return func(c *Client) {
		c.ticketRetry = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records every upstream call
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// TicketRetryConfig retries ticket creation on 400 and 415 responses,
// waiting 5s, 10s and 20s.
func TicketRetryConfig() resilience.RetryConfig {
	return resilience.UpstreamBackoffConfig(isTicketRetryable)
}

// NewClient creates a helpdesk client
func NewClient(config Config, tokens TokenSource, opts ...Option) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.AuthScheme == "" {
		config.AuthScheme = "Zoho-oauthtoken"
	}
	if config.CustomFieldFormat == "" {
		config.CustomFieldFormat = CustomFieldsNamed
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	c := &Client{
		config:      config,
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: config.Timeout},
		ticketRetry: TicketRetryConfig(),
		logger:      logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetOrCreateContact returns the contact registered under input.Email,
// creating it when the search finds nothing. An existing contact is returned
// unchanged. Concurrent calls for the same new email may both create; callers
// that need uniqueness serialize by email.
func (c *Client) GetOrCreateContact(ctx context.Context, input ContactInput) (*Contact, error) {
	input.Email = strings.TrimSpace(input.Email)
	if input.Email == "" {
		return nil, errors.NewValidationError("contact email is required")
	}

	existing, err := c.FindContactByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.logger.WithContext(ctx).WithFields(logrus.Fields{
			"contact_id": existing.ID,
		}).Debug("Found existing contact")
		return existing, nil
	}

	return c.createContact(ctx, input)
}

// FindContactByEmail searches contacts by email. It returns nil when no
// contact matches.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	query := url.Values{}
	query.Set("email", email)
	query.Set("limit", "1")

	var result searchResponse
	status, err := c.do(ctx, "search_contact", http.MethodGet, "/contacts/search", query, nil, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}

	for i := range result.Data {
		if strings.EqualFold(result.Data[i].Email, email) {
			contact := result.Data[i]
			return &contact, nil
		}
	}
	return nil, nil
}

func (c *Client) createContact(ctx context.Context, input ContactInput) (*Contact, error) {
	payload := contactPayload{
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Email:       input.Email,
		Phone:       input.Phone,
		Description: input.Description,
	}

	var contact Contact
	if _, err := c.do(ctx, "create_contact", http.MethodPost, "/contacts", nil, payload, &contact); err != nil {
		return nil, err
	}
	if contact.ID == "" {
		return nil, errors.NewAppError(errors.ErrorTypeExternal, "UPSTREAM_INVALID_RESPONSE",
			"helpdesk created a contact without an id")
	}
	if contact.Email == "" {
		contact.Email = input.Email
	}

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"contact_id": contact.ID,
	}).Info("Created helpdesk contact")

	return &contact, nil
}

// CreateTicket opens a ticket for the contact in the configured department.
// Custom fields with an empty value are left out of the payload. A 400 or
// 415 response is retried on the upstream backoff schedule; any other
// failure status is returned at once as an UpstreamError.
func (c *Client) CreateTicket(ctx context.Context, contactID string, input TicketInput) (*Ticket, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, errors.NewValidationError("ticket contact id is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, errors.NewValidationError("ticket subject is required")
	}

	payload := c.ticketPayload(contactID, input)

	config := c.ticketRetry
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.WithContext(ctx).WithFields(logrus.Fields{
			"attempt":     attempt,
			"delay":       delay.String(),
			"status_code": errors.GetStatusCode(err),
		}).Warn("Retrying ticket creation")
	}
	retrier := resilience.NewRetrier(config)

	ticket, err := resilience.ExecuteWithResult(ctx, retrier, func(ctx context.Context) (*Ticket, error) {
		var ticket Ticket
		if _, err := c.do(ctx, "create_ticket", http.MethodPost, "/tickets", nil, payload, &ticket); err != nil {
			return nil, err
		}
		return &ticket, nil
	})
	if err != nil {
		var exhausted *resilience.ExhaustedError
		if stderrors.As(err, &exhausted) {
			return nil, exhausted.Last
		}
		return nil, err
	}

	if ticket.ContactID == "" {
		ticket.ContactID = contactID
	}

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
		"contact_id":    contactID,
	}).Info("Created helpdesk ticket")

	return ticket, nil
}

func (c *Client) ticketPayload(contactID string, input TicketInput) ticketPayload {
	payload := ticketPayload{
		Subject:      input.Subject,
		Description:  input.Description,
		Priority:     input.Priority,
		Status:       input.Status,
		ContactID:    contactID,
		DepartmentID: c.config.DepartmentID,
		Category:     input.Category,
	}
	if payload.Priority == "" {
		payload.Priority = PriorityMedium
	}
	if payload.Status == "" {
		payload.Status = StatusOpen
	}

	for _, field := range input.CustomFields {
		if strings.TrimSpace(field.Value) == "" {
			continue
		}
		switch c.config.CustomFieldFormat {
		case CustomFieldsCF:
			var f cfField
			f.Value = field.Value
			f.CF.CFName = field.Name
			payload.CustomFields = append(payload.CustomFields, f)
		default:
			payload.CustomFields = append(payload.CustomFields, namedField{Name: field.Name, Value: field.Value})
		}
	}

	return payload
}

// do performs one authenticated call and decodes a 2xx body into out. It
// returns the response status alongside any error.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body, out interface{}) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, errors.NewInternalError("failed to encode helpdesk request").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, errors.NewInternalError("failed to create helpdesk request").WithCause(err)
	}
	req.Header.Set("Authorization", c.config.AuthScheme+" "+token)
	req.Header.Set("orgId", c.config.OrgID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamCall(operation, 0, time.Since(start))
		return 0, errors.NewAppError(errors.ErrorTypeExternal, "UPSTREAM_UNREACHABLE",
			fmt.Sprintf("%s %s request failed", serviceName, operation)).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordUpstreamCall(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return resp.StatusCode, errors.NewAppError(errors.ErrorTypeExternal, "UPSTREAM_UNREACHABLE",
			fmt.Sprintf("failed to read %s %s response", serviceName, operation)).
			WithStatus(resp.StatusCode).
			WithCause(err)
	}

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"operation":   operation,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Helpdesk call completed")

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, errors.NewUpstreamError(serviceName, resp.StatusCode, string(respBody))
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, errors.NewAppError(errors.ErrorTypeExternal, "UPSTREAM_INVALID_RESPONSE",
				fmt.Sprintf("could not decode %s %s response", serviceName, operation)).
				WithStatus(resp.StatusCode).
				WithCause(err)
		}
	}

	return resp.StatusCode, nil
}

func isTicketRetryable(err error) bool {
	if !errors.IsType(err, errors.ErrorTypeExternal) || errors.GetCode(err) != "UPSTREAM_ERROR" {
		return false
	}
	switch errors.GetStatusCode(err) {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return true
	}
	return false
}
