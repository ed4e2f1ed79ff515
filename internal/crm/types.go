package crm

// Ticket priorities and statuses understood by the helpdesk
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"

	StatusOpen = "Open"
)

// Custom field wire formats
const (
	// CustomFieldsNamed sends each field as {"name": ..., "value": ...}
	CustomFieldsNamed = "named"
	// CustomFieldsCF sends each field as {"value": ..., "cf": {"cfName": ...}}
	CustomFieldsCF = "cf"
)

// Contact is a helpdesk contact record
type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

// ContactInput carries the fields used when a contact has to be created
type ContactInput struct {
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	Description string
}

// CustomField is one optional ticket attribute
type CustomField struct {
	Name  string
	Value string
}

// TicketInput describes a ticket to open for a contact
type TicketInput struct {
	Subject      string
	Description  string
	Priority     string
	Status       string
	Category     string
	CustomFields []CustomField
}

// Ticket is the helpdesk's view of a created ticket
type Ticket struct {
	ID           string `json:"id"`
	TicketNumber string `json:"ticketNumber"`
	ContactID    string `json:"contactId"`
	DepartmentID string `json:"departmentId"`
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
	Status       string `json:"status"`
	Category     string `json:"category,omitempty"`
	WebURL       string `json:"webUrl,omitempty"`
	// CustomFields are echoed in the wire format the ticket was created with
	CustomFields []map[string]interface{} `json:"customFields,omitempty"`
}

type contactPayload struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Description string `json:"description,omitempty"`
}

type ticketPayload struct {
	Subject      string        `json:"subject"`
	Description  string        `json:"description"`
	Priority     string        `json:"priority"`
	Status       string        `json:"status"`
	ContactID    string        `json:"contactId"`
	DepartmentID string        `json:"departmentId"`
	Category     string        `json:"category,omitempty"`
	CustomFields []interface{} `json:"customFields,omitempty"`
}

type namedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cfField struct {
	Value string `json:"value"`
	CF    struct {
		CFName string `json:"cfName"`
	} `json:"cf"`
}

type searchResponse struct {
	Data  []Contact `json:"data"`
	Count int       `json:"count"`
}
