package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
)

type staticTokens struct {
	token       string
	err         error
	invalidated atomic.Int32
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

func (s *staticTokens) Invalidate() {
	s.invalidated.Add(1)
}

// fakeHelpdesk keeps contacts in memory and lets each test script the
// ticket endpoint.
type fakeHelpdesk struct {
	t *testing.T

	mu       sync.Mutex
	contacts map[string]Contact
	searches int
	creates  int

	ticketCalls    atomic.Int32
	ticketBodies   []map[string]interface{}
	ticketResponse func(n int32, w http.ResponseWriter)
}

func newFakeHelpdesk(t *testing.T) (*fakeHelpdesk, *httptest.Server) {
	t.Helper()

	f := &fakeHelpdesk{t: t, contacts: make(map[string]Contact)}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeHelpdesk) serve(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Zoho-oauthtoken test-token", r.Header.Get("Authorization"))
	assert.Equal(f.t, "org-1", r.Header.Get("orgId"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/contacts/search":
		f.mu.Lock()
		f.searches++
		contact, ok := f.contacts[strings.ToLower(r.URL.Query().Get("email"))]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []Contact{contact}, "count": 1})

	case r.Method == http.MethodPost && r.URL.Path == "/contacts":
		var payload contactPayload
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&payload))

		f.mu.Lock()
		f.creates++
		contact := Contact{
			ID:        fmt.Sprintf("contact-%d", f.creates),
			Email:     payload.Email,
			FirstName: payload.FirstName,
			LastName:  payload.LastName,
			Phone:     payload.Phone,
		}
		f.contacts[strings.ToLower(payload.Email)] = contact
		f.mu.Unlock()

		writeJSON(w, http.StatusOK, contact)

	case r.Method == http.MethodPost && r.URL.Path == "/tickets":
		n := f.ticketCalls.Add(1)
		assert.Equal(f.t, "application/json", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(f.t, json.Unmarshal(raw, &body))
		f.mu.Lock()
		f.ticketBodies = append(f.ticketBodies, body)
		f.mu.Unlock()

		if f.ticketResponse != nil {
			f.ticketResponse(n, w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "ticket-1",
			"ticketNumber": "101",
			"subject":      body["subject"],
			"customFields": body["customFields"],
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, baseURL string, delays *[]time.Duration, opts ...Option) *Client {
	t.Helper()

	retry := TicketRetryConfig()
	retry.Sleep = func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}

	config := Config{
		BaseURL:      baseURL,
		OrgID:        "org-1",
		DepartmentID: "dept-1",
	}
	opts = append([]Option{WithTicketRetryConfig(retry)}, opts...)
	return NewClient(config, &staticTokens{token: "test-token"}, opts...)
}

func TestGetOrCreateContact_SecondCallIsLookup(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	client := newTestClient(t, server.URL, nil)

	input := ContactInput{Email: "a@x.com", FirstName: "Ada", LastName: "Lovelace", Phone: "555-0100"}

	first, err := client.GetOrCreateContact(context.Background(), input)
	require.NoError(t, err)
	second, err := client.GetOrCreateContact(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, helpdesk.creates)
	assert.Equal(t, 2, helpdesk.searches)
}

func TestGetOrCreateContact_ExistingContactReturnedUnchanged(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	helpdesk.contacts["grace@example.com"] = Contact{
		ID:        "existing",
		Email:     "grace@example.com",
		FirstName: "Grace",
		LastName:  "Hopper",
	}
	client := newTestClient(t, server.URL, nil)

	contact, err := client.GetOrCreateContact(context.Background(), ContactInput{
		Email:     "grace@example.com",
		FirstName: "Different",
		LastName:  "Name",
	})
	require.NoError(t, err)

	assert.Equal(t, "existing", contact.ID)
	assert.Equal(t, "Grace", contact.FirstName)
	assert.Equal(t, 0, helpdesk.creates)
}

func TestGetOrCreateContact_RequiresEmail(t *testing.T) {
	_, server := newFakeHelpdesk(t)
	client := newTestClient(t, server.URL, nil)

	_, err := client.GetOrCreateContact(context.Background(), ContactInput{Email: "  "})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGetOrCreateContact_SearchFailureIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorCode":"INTERNAL_SERVER_ERROR"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.GetOrCreateContact(context.Background(), ContactInput{Email: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, "UPSTREAM_ERROR", errors.GetCode(err))
	assert.Equal(t, http.StatusInternalServerError, errors.GetStatusCode(err))
}

func TestCreateTicket_RetriesBadRequestThenSucceeds(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	helpdesk.ticketResponse = func(n int32, w http.ResponseWriter) {
		if n <= 2 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"errorCode": "INVALID_DATA"})
			return
		}
		writeJSON(w, http.StatusOK, Ticket{ID: "ticket-3", TicketNumber: "303", Status: "Open"})
	}

	var delays []time.Duration
	client := newTestClient(t, server.URL, &delays)

	ticket, err := client.CreateTicket(context.Background(), "contact-1", TicketInput{
		Subject:     "Website contact",
		Description: "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "ticket-3", ticket.ID)
	assert.Equal(t, "303", ticket.TicketNumber)
	assert.Equal(t, "contact-1", ticket.ContactID)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
	assert.Equal(t, int32(3), helpdesk.ticketCalls.Load())
}

func TestCreateTicket_UnsupportedMediaTypeExhaustsRetries(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	helpdesk.ticketResponse = func(n int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		_, _ = w.Write([]byte("unsupported"))
	}

	var delays []time.Duration
	client := newTestClient(t, server.URL, &delays)

	_, err := client.CreateTicket(context.Background(), "contact-1", TicketInput{Subject: "s"})
	require.Error(t, err)

	assert.Equal(t, "UPSTREAM_ERROR", errors.GetCode(err))
	assert.Equal(t, http.StatusUnsupportedMediaType, errors.GetStatusCode(err))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, delays)
	assert.Equal(t, int32(4), helpdesk.ticketCalls.Load())
}

func TestCreateTicket_OtherStatusFailsImmediately(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	helpdesk.ticketResponse = func(n int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errorCode":"DEPARTMENT_NOT_FOUND"}`))
	}

	var delays []time.Duration
	client := newTestClient(t, server.URL, &delays)

	_, err := client.CreateTicket(context.Background(), "contact-1", TicketInput{Subject: "s"})
	require.Error(t, err)

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeExternal, appErr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.StatusCode)
	assert.Contains(t, appErr.Details["response_body"], "DEPARTMENT_NOT_FOUND")
	assert.Empty(t, delays)
	assert.Equal(t, int32(1), helpdesk.ticketCalls.Load())
}

func TestCreateTicket_Payload(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   []interface{}
	}{
		{
			name:   "named fields",
			format: CustomFieldsNamed,
			want: []interface{}{
				map[string]interface{}{"name": "Position", "value": "Engineer"},
			},
		},
		{
			name:   "cf fields",
			format: CustomFieldsCF,
			want: []interface{}{
				map[string]interface{}{"value": "Engineer", "cf": map[string]interface{}{"cfName": "Position"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helpdesk, server := newFakeHelpdesk(t)
			client := NewClient(Config{
				BaseURL:           server.URL,
				OrgID:             "org-1",
				DepartmentID:      "dept-1",
				CustomFieldFormat: tt.format,
			}, &staticTokens{token: "test-token"})

			ticket, err := client.CreateTicket(context.Background(), "contact-9", TicketInput{
				Subject:     "Job application",
				Description: "CV attached",
				Category:    "Careers",
				CustomFields: []CustomField{
					{Name: "Position", Value: "Engineer"},
					{Name: "Portfolio", Value: ""},
					{Name: "LinkedIn", Value: "   "},
				},
			})
			require.NoError(t, err)
			require.Len(t, helpdesk.ticketBodies, 1)

			body := helpdesk.ticketBodies[0]
			assert.Equal(t, "Job application", body["subject"])
			assert.Equal(t, "contact-9", body["contactId"])
			assert.Equal(t, "dept-1", body["departmentId"])
			assert.Equal(t, PriorityMedium, body["priority"])
			assert.Equal(t, StatusOpen, body["status"])
			assert.Equal(t, "Careers", body["category"])
			assert.Equal(t, tt.want, body["customFields"])

			require.Len(t, ticket.CustomFields, 1)
			assert.Equal(t, tt.want[0], ticket.CustomFields[0])
		})
	}
}

func TestCreateTicket_NoCustomFieldsOmitsKey(t *testing.T) {
	helpdesk, server := newFakeHelpdesk(t)
	client := newTestClient(t, server.URL, nil)

	_, err := client.CreateTicket(context.Background(), "contact-1", TicketInput{
		Subject:      "Support",
		CustomFields: []CustomField{{Name: "Order", Value: ""}},
	})
	require.NoError(t, err)
	require.Len(t, helpdesk.ticketBodies, 1)

	_, hasCustom := helpdesk.ticketBodies[0]["customFields"]
	_, hasCategory := helpdesk.ticketBodies[0]["category"]
	assert.False(t, hasCustom)
	assert.False(t, hasCategory)
}

func TestClient_TokenErrorPropagates(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	tokens := &staticTokens{err: errors.NewAuthError("refresh token revoked")}
	client := NewClient(Config{BaseURL: server.URL, OrgID: "org-1"}, tokens)

	_, err := client.GetOrCreateContact(context.Background(), ContactInput{Email: "a@x.com"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &staticTokens{token: "stale"}
	client := NewClient(Config{BaseURL: server.URL, OrgID: "org-1"}, tokens)

	_, err := client.FindContactByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.GetStatusCode(err))
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestCreateTicket_Validation(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://unused"}, &staticTokens{token: "t"})

	_, err := client.CreateTicket(context.Background(), "", TicketInput{Subject: "s"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = client.CreateTicket(context.Background(), "contact-1", TicketInput{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestClient_UndecodableResponseKeepsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.FindContactByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.Equal(t, "UPSTREAM_INVALID_RESPONSE", errors.GetCode(err))
	assert.Equal(t, http.StatusOK, errors.GetStatusCode(err))
}
