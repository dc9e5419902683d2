package dto

import (
	"encoding/base64"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	"github.com/spec-kit/support-pipeline/pkg/util"
)

// WebformSubmission is the contact-form payload.
type WebformSubmission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Validate enforces the form field bounds.
func (s *WebformSubmission) Validate() error {
	details := map[string]any{}
	name := strings.TrimSpace(s.Name)
	if len(name) < 2 || len(name) > 100 {
		details["name"] = "must be between 2 and 100 characters"
	}
	if _, err := mail.ParseAddress(s.Email); err != nil {
		details["email"] = "must be a valid email address"
	}
	subject := strings.TrimSpace(s.Subject)
	if len(subject) < 5 || len(subject) > 200 {
		details["subject"] = "must be between 5 and 200 characters"
	}
	message := strings.TrimSpace(s.Message)
	if len(message) < 10 || len(message) > 5000 {
		details["message"] = "must be between 10 and 5000 characters"
	}
	if len(details) > 0 {
		return util.NewValidationError("invalid submission", details)
	}
	return nil
}

// EmailPushRequest is the push envelope delivered by the mail gateway's
// subscription. Data carries a base64-encoded InboundEmail.
type EmailPushRequest struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// InboundEmail is the decoded mail notification.
type InboundEmail struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// DecodeEmail unwraps and validates the pushed mail payload.
func (r *EmailPushRequest) DecodeEmail() (*InboundEmail, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Message.Data)
	if err != nil {
		return nil, util.NewValidationError("push data is not valid base64", nil)
	}
	var email InboundEmail
	if err := json.Unmarshal(raw, &email); err != nil {
		return nil, util.NewValidationError("push data is not a mail notification", nil)
	}
	if email.MessageID == "" || email.From == "" {
		return nil, util.NewValidationError("mail notification missing message_id or from", nil)
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now().UTC()
	}
	return &email, nil
}

// SenderAddress extracts the bare address from a possibly display-named From.
func (e *InboundEmail) SenderAddress() string {
	if addr, err := mail.ParseAddress(e.From); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(e.From)
}

// WhatsAppInbound is the form payload of a WhatsApp webhook delivery.
type WhatsAppInbound struct {
	MessageSid  string
	From        string
	Body        string
	ProfileName string
}

// Validate enforces the minimum delivery fields.
func (w *WhatsAppInbound) Validate() error {
	details := map[string]any{}
	if w.MessageSid == "" {
		details["MessageSid"] = "required"
	}
	if w.From == "" {
		details["From"] = "required"
	}
	if strings.TrimSpace(w.Body) == "" {
		details["Body"] = "required"
	}
	if len(details) > 0 {
		return util.NewValidationError("invalid delivery", details)
	}
	return nil
}

// SenderNumber strips the channel prefix from the From field.
func (w *WhatsAppInbound) SenderNumber() string {
	return strings.TrimPrefix(w.From, "whatsapp:")
}
