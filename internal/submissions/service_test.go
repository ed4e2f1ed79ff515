package submissions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NikhilSetiya/helpdesk-relay/internal/crm"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/tracing"
)

// MockHelpdesk is a mock implementation of HelpdeskClient
type MockHelpdesk struct {
	mock.Mock
}

func (m *MockHelpdesk) GetOrCreateContact(ctx context.Context, input crm.ContactInput) (*crm.Contact, error) {
	args := m.Called(ctx, input)
	contact, _ := args.Get(0).(*crm.Contact)
	return contact, args.Error(1)
}

func (m *MockHelpdesk) CreateTicket(ctx context.Context, contactID string, input crm.TicketInput) (*crm.Ticket, error) {
	args := m.Called(ctx, contactID, input)
	ticket, _ := args.Get(0).(*crm.Ticket)
	return ticket, args.Error(1)
}

func validContact() Submission {
	return Submission{
		Kind:    KindContact,
		Name:    "  Ada   King Lovelace ",
		Email:   "ada@example.com",
		Subject: "Partnership",
		Message: "Hello there",
	}
}

func TestSubmit_Contact(t *testing.T) {
	client := &MockHelpdesk{}
	client.On("GetOrCreateContact", mock.Anything, crm.ContactInput{
		Email:     "ada@example.com",
		FirstName: "Ada King",
		LastName:  "Lovelace",
	}).Return(&crm.Contact{ID: "c-1"}, nil).Once()
	client.On("CreateTicket", mock.Anything, "c-1", mock.MatchedBy(func(in crm.TicketInput) bool {
		return in.Subject == "Website inquiry: Partnership" &&
			in.Category == CategoryContact &&
			in.Priority == crm.PriorityMedium &&
			in.Status == crm.StatusOpen &&
			len(in.CustomFields) == 0 &&
			in.Description == "Name: Ada King Lovelace\nEmail: ada@example.com\n\nHello there"
	})).Return(&crm.Ticket{ID: "t-1", TicketNumber: "101"}, nil).Once()

	m := metrics.NewMetrics(nil)
	service := NewService(client, WithMetrics(m))

	result, err := service.Submit(context.Background(), validContact())
	require.NoError(t, err)
	assert.Equal(t, &Result{Kind: KindContact, ContactID: "c-1", TicketID: "t-1", TicketNumber: "101"}, result)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("contact", "success")))
	client.AssertExpectations(t)
}

func TestSubmit_CustomFieldsOnlyWhenProvided(t *testing.T) {
	tests := []struct {
		name   string
		sub    Submission
		fields []crm.CustomField
	}{
		{
			name: "job with portfolio only",
			sub: Submission{
				Kind: KindJob, Name: "Grace Hopper", Email: "grace@example.com",
				Message: "Cover letter", Position: "Engineer", PortfolioURL: "https://grace.dev",
				LinkedInURL: "   ",
			},
			fields: []crm.CustomField{
				{Name: "Position", Value: "Engineer"},
				{Name: "Portfolio", Value: "https://grace.dev"},
			},
		},
		{
			name: "ticket without extras",
			sub: Submission{
				Kind: KindTicket, Name: "Grace Hopper", Email: "grace@example.com",
				Message: "Broken", Subject: "Login fails",
			},
		},
		{
			name: "ticket with order",
			sub: Submission{
				Kind: KindTicket, Name: "Grace Hopper", Email: "grace@example.com",
				Message: "Broken", Subject: "Login fails", OrderNumber: "A-17", Priority: crm.PriorityHigh,
			},
			fields: []crm.CustomField{{Name: "Order Number", Value: "A-17"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got crm.TicketInput
			client := &MockHelpdesk{}
			client.On("GetOrCreateContact", mock.Anything, mock.Anything).Return(&crm.Contact{ID: "c-9"}, nil)
			client.On("CreateTicket", mock.Anything, "c-9", mock.Anything).
				Run(func(args mock.Arguments) { got = args.Get(2).(crm.TicketInput) }).
				Return(&crm.Ticket{ID: "t-9"}, nil)

			_, err := NewService(client).Submit(context.Background(), tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.fields, got.CustomFields)
		})
	}
}

func TestSubmit_TicketFields(t *testing.T) {
	var got crm.TicketInput
	client := &MockHelpdesk{}
	client.On("GetOrCreateContact", mock.Anything, mock.Anything).Return(&crm.Contact{ID: "c-2"}, nil)
	client.On("CreateTicket", mock.Anything, "c-2", mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(2).(crm.TicketInput) }).
		Return(&crm.Ticket{ID: "t-2"}, nil)

	_, err := NewService(client).Submit(context.Background(), Submission{
		Kind: KindTicket, Name: "Linus", Email: "linus@example.com", Phone: "+1 555",
		Subject: "Refund", Message: "Please refund", Priority: crm.PriorityLow,
	})
	require.NoError(t, err)

	assert.Equal(t, "Refund", got.Subject)
	assert.Equal(t, CategorySupport, got.Category)
	assert.Equal(t, crm.PriorityLow, got.Priority)
	assert.Contains(t, got.Description, "Phone: +1 555\n")

	client.AssertCalled(t, "GetOrCreateContact", mock.Anything, crm.ContactInput{
		Email:    "linus@example.com",
		LastName: "Linus",
		Phone:    "+1 555",
	})
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		fields string
	}{
		{name: "unknown kind", mutate: func(s *Submission) { s.Kind = "newsletter" }},
		{name: "missing name", mutate: func(s *Submission) { s.Name = "  " }, fields: "name"},
		{name: "missing email and message", mutate: func(s *Submission) { s.Email = ""; s.Message = "" }, fields: "email,message"},
		{name: "malformed email", mutate: func(s *Submission) { s.Email = "ada-at-example" }, fields: "email"},
		{name: "display name email", mutate: func(s *Submission) { s.Email = "Ada <ada@example.com>" }, fields: "email"},
		{name: "job without position", mutate: func(s *Submission) { s.Kind = KindJob }, fields: "position"},
		{name: "ticket without subject", mutate: func(s *Submission) { s.Kind = KindTicket; s.Subject = "" }, fields: "subject"},
		{name: "ticket with unknown priority", mutate: func(s *Submission) { s.Kind = KindTicket; s.Priority = "Urgent" }, fields: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockHelpdesk{}
			m := metrics.NewMetrics(nil)
			service := NewService(client, WithMetrics(m))

			sub := validContact()
			tt.mutate(&sub)

			_, err := service.Submit(context.Background(), sub)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

			appErr, ok := errors.As(err)
			require.True(t, ok)
			if tt.fields != "" {
				assert.Equal(t, tt.fields, appErr.Details["fields"])
			}

			assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(string(sub.Kind), "invalid")))
			client.AssertNotCalled(t, "GetOrCreateContact", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmit_UpstreamFailures(t *testing.T) {
	upstream := errors.NewUpstreamError("helpdesk", 422, `{"errorCode":"INVALID_DATA"}`)

	t.Run("contact", func(t *testing.T) {
		client := &MockHelpdesk{}
		client.On("GetOrCreateContact", mock.Anything, mock.Anything).Return(nil, upstream)

		m := metrics.NewMetrics(nil)
		_, err := NewService(client, WithMetrics(m)).Submit(context.Background(), validContact())
		assert.Same(t, upstream, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("contact", "failed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("submissions", "external")))
		client.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ticket", func(t *testing.T) {
		client := &MockHelpdesk{}
		client.On("GetOrCreateContact", mock.Anything, mock.Anything).Return(&crm.Contact{ID: "c-3"}, nil)
		client.On("CreateTicket", mock.Anything, "c-3", mock.Anything).Return(nil, upstream)

		_, err := NewService(client).Submit(context.Background(), validContact())
		assert.Equal(t, 422, errors.GetStatusCode(err))
	})
}

// blockingHelpdesk holds every contact lookup until release is closed
type blockingHelpdesk struct {
	lookups atomic.Int32
	release chan struct{}
}

func (b *blockingHelpdesk) GetOrCreateContact(ctx context.Context, input crm.ContactInput) (*crm.Contact, error) {
	b.lookups.Add(1)
	<-b.release
	return &crm.Contact{ID: "c-shared", Email: input.Email}, nil
}

func (b *blockingHelpdesk) CreateTicket(ctx context.Context, contactID string, input crm.TicketInput) (*crm.Ticket, error) {
	return &crm.Ticket{ID: "t-" + contactID}, nil
}

func TestSubmit_ConcurrentSameEmailSharesLookup(t *testing.T) {
	client := &blockingHelpdesk{release: make(chan struct{})}
	service := NewService(client)

	emails := []string{"ada@example.com", "ADA@example.com", "Ada@Example.com"}

	var wg sync.WaitGroup
	results := make([]*Result, 12)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := validContact()
			sub.Email = emails[i%len(emails)]
			results[i], errs[i] = service.Submit(context.Background(), sub)
		}(i)
	}

	require.Eventually(t, func() bool { return client.lookups.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.Equal(t, int32(1), client.lookups.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "c-shared", results[i].ContactID)
	}
}

func TestSubmit_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ts := tracing.NewWithProvider(tracing.DefaultConfig(), tp)

	client := &MockHelpdesk{}
	service := NewService(client, WithTracing(ts))

	sub := validContact()
	sub.Email = ""
	_, err := service.Submit(context.Background(), sub)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "submission.contact", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
