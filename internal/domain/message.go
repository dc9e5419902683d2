package domain

import "time"

// MessageChannel enumerates supported inbound channels.
type MessageChannel string

const (
	ChannelEmail    MessageChannel = "email"
	ChannelWhatsApp MessageChannel = "whatsapp"
	ChannelWebform  MessageChannel = "webform"
)

// ValidChannel reports whether the channel is one the pipeline accepts.
func ValidChannel(c MessageChannel) bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelWebform:
		return true
	}
	return false
}

// MessageDirection distinguishes customer traffic from replies.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageRole indicates who authored a message.
type MessageRole string

const (
	RoleCustomer MessageRole = "customer"
	RoleAgent    MessageRole = "agent"
	RoleSystem   MessageRole = "system"
)

// DeliveryStatus tracks outbound delivery progress.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message is an immutable event record.
// (channel, channel_message_id) is the deduplication key.
type Message struct {
	ID               string
	ConversationID   string
	Channel          MessageChannel
	Direction        MessageDirection
	Role             MessageRole
	Content          string
	ChannelMessageID *string
	DeliveryStatus   *DeliveryStatus
	Metadata         map[string]any
	CreatedAt        time.Time
}
