package domain

import "time"

// IdentifierType enumerates external identifier kinds used for customer resolution.
type IdentifierType string

const (
	IdentifierTypeEmail    IdentifierType = "email"
	IdentifierTypePhone    IdentifierType = "phone"
	IdentifierTypeWhatsApp IdentifierType = "whatsapp"
)

// Identifier maps an external address to its owning customer.
// (type, value) is unique across all customers.
type Identifier struct {
	ID         string
	CustomerID string
	Type       IdentifierType
	Value      string
	Verified   bool
	CreatedAt  time.Time
}

// Customer is the identity aggregate. Created on first unmatched message,
// updated on every subsequent message from any of its identifiers, never hard-deleted.
type Customer struct {
	ID                string
	Name              *string
	PrimaryEmail      *string
	PrimaryPhone      *string
	SentimentScore    float64
	TotalInteractions int
	EscalationCount   int
	FirstContactAt    *time.Time
	LastContactAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IdentifierTypeForChannel maps a message channel to the identifier kind its
// customer_identifier field carries.
func IdentifierTypeForChannel(channel MessageChannel) IdentifierType {
	switch channel {
	case ChannelEmail, ChannelWebform:
		return IdentifierTypeEmail
	case ChannelWhatsApp:
		return IdentifierTypeWhatsApp
	default:
		return IdentifierTypePhone
	}
}
