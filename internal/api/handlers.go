package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/helpdesk-relay/internal/submissions"
)

// Submitter relays a form submission. submissions.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, sub submissions.Submission) (*submissions.Result, error)
}

// ContactRequest is the body of POST /api/contact
type ContactRequest struct {
	Name    string `json:"name" binding:"max=200"`
	Email   string `json:"email" binding:"max=254"`
	Phone   string `json:"phone" binding:"max=50"`
	Subject string `json:"subject" binding:"max=200"`
	Message string `json:"message" binding:"max=10000"`
}

// JobApplicationRequest is the body of POST /api/jobs
type JobApplicationRequest struct {
	Name         string `json:"name" binding:"max=200"`
	Email        string `json:"email" binding:"max=254"`
	Phone        string `json:"phone" binding:"max=50"`
	Position     string `json:"position" binding:"max=200"`
	PortfolioURL string `json:"portfolio_url" binding:"max=500"`
	LinkedInURL  string `json:"linkedin_url" binding:"max=500"`
	CoverLetter  string `json:"cover_letter" binding:"max=10000"`
}

// SupportTicketRequest is the body of POST /api/tickets
type SupportTicketRequest struct {
	Name        string `json:"name" binding:"max=200"`
	Email       string `json:"email" binding:"max=254"`
	Phone       string `json:"phone" binding:"max=50"`
	Subject     string `json:"subject" binding:"max=200"`
	Description string `json:"description" binding:"max=10000"`
	OrderNumber string `json:"order_number" binding:"max=100"`
	Product     string `json:"product" binding:"max=200"`
	Priority    string `json:"priority" binding:"max=20"`
}

// FormHandler serves the public form endpoints
type FormHandler struct {
	submitter Submitter
}

// NewFormHandler creates a new form handler
func NewFormHandler(submitter Submitter) *FormHandler {
	return &FormHandler{submitter: submitter}
}

// SubmitContact handles POST /api/contact
func (h *FormHandler) SubmitContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	h.submit(c, submissions.Submission{
		Kind:    submissions.KindContact,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Subject: req.Subject,
		Message: req.Message,
	})
}

// SubmitJobApplication handles POST /api/jobs
func (h *FormHandler) SubmitJobApplication(c *gin.Context) {
	var req JobApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	h.submit(c, submissions.Submission{
		Kind:         submissions.KindJob,
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Message:      req.CoverLetter,
		Position:     req.Position,
		PortfolioURL: req.PortfolioURL,
		LinkedInURL:  req.LinkedInURL,
	})
}

// SubmitSupportTicket handles POST /api/tickets
func (h *FormHandler) SubmitSupportTicket(c *gin.Context) {
	var req SupportTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	h.submit(c, submissions.Submission{
		Kind:        submissions.KindTicket,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Subject:     req.Subject,
		Message:     req.Description,
		OrderNumber: req.OrderNumber,
		Product:     req.Product,
		Priority:    req.Priority,
	})
}

func (h *FormHandler) submit(c *gin.Context, sub submissions.Submission) {
	result, err := h.submitter.Submit(c.Request.Context(), sub)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, result)
}
