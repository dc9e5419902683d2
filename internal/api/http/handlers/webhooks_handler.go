package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/api/dto"
	"github.com/spec-kit/support-pipeline/internal/auth"
	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// IncomingPublisher is the queue side of the ingress.
type IncomingPublisher interface {
	PublishIncoming(ctx context.Context, event *queue.IncomingEvent) (string, error)
}

// WebhooksHandler turns channel deliveries into canonical incoming events.
// Adapters validate, canonicalize, and enqueue; all business logic lives
// behind the queue.
type WebhooksHandler struct {
	producer IncomingPublisher
	push     *auth.PushTokenVerifier
	twilio   *auth.TwilioValidator
	logger   *zap.Logger
}

// NewWebhooksHandler constructs handler.
func NewWebhooksHandler(producer IncomingPublisher, push *auth.PushTokenVerifier, twilio *auth.TwilioValidator, logger *zap.Logger) *WebhooksHandler {
	return &WebhooksHandler{producer: producer, push: push, twilio: twilio, logger: logger}
}

// Email POST /webhooks/email.
func (h *WebhooksHandler) Email(c *fiber.Ctx) error {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return unauthorized(c, "missing bearer token")
	}
	if _, err := h.push.Verify(token); err != nil {
		h.logger.Warn("email push token rejected", zap.Error(err))
		return unauthorized(c, "invalid push token")
	}

	var req dto.EmailPushRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid push envelope", nil)
	}
	email, err := req.DecodeEmail()
	if err != nil {
		return err
	}

	event := &queue.IncomingEvent{
		Channel:            domain.ChannelEmail,
		ChannelMessageID:   email.MessageID,
		CustomerIdentifier: email.SenderAddress(),
		Content:            emailContent(email),
		Timestamp:          email.ReceivedAt,
		Metadata: map[string]any{
			"subject": email.Subject,
			"email":   email.SenderAddress(),
		},
	}
	return h.enqueue(c, event)
}

// WhatsApp POST /webhooks/whatsapp.
func (h *WebhooksHandler) WhatsApp(c *fiber.Ctx) error {
	params := formParams(c)
	url := c.BaseURL() + c.OriginalURL()
	if !h.twilio.Valid(url, params, c.Get("X-Twilio-Signature")) {
		h.logger.Warn("whatsapp signature rejected", zap.String("url", url))
		return unauthorized(c, "invalid signature")
	}

	inbound := dto.WhatsAppInbound{
		MessageSid:  params["MessageSid"],
		From:        params["From"],
		Body:        params["Body"],
		ProfileName: params["ProfileName"],
	}
	if err := inbound.Validate(); err != nil {
		return err
	}

	metadata := map[string]any{}
	if inbound.ProfileName != "" {
		metadata["name"] = inbound.ProfileName
	}
	event := &queue.IncomingEvent{
		Channel:            domain.ChannelWhatsApp,
		ChannelMessageID:   inbound.MessageSid,
		CustomerIdentifier: inbound.SenderNumber(),
		Content:            inbound.Body,
		Timestamp:          time.Now().UTC(),
		Metadata:           metadata,
	}
	return h.enqueue(c, event)
}

// Webform POST /webhooks/webform.
func (h *WebhooksHandler) Webform(c *fiber.Ctx) error {
	var req dto.WebformSubmission
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	// Forms carry no provider message id; mint one so dedup still holds on
	// queue redelivery.
	event := &queue.IncomingEvent{
		Channel:            domain.ChannelWebform,
		ChannelMessageID:   "webform-" + uuid.NewString(),
		CustomerIdentifier: strings.ToLower(strings.TrimSpace(req.Email)),
		Content:            strings.TrimSpace(req.Message),
		Timestamp:          time.Now().UTC(),
		Metadata: map[string]any{
			"name":    strings.TrimSpace(req.Name),
			"subject": strings.TrimSpace(req.Subject),
			"email":   strings.ToLower(strings.TrimSpace(req.Email)),
		},
	}
	return h.enqueue(c, event)
}

func (h *WebhooksHandler) enqueue(c *fiber.Ctx, event *queue.IncomingEvent) error {
	entryID, err := h.producer.PublishIncoming(c.UserContext(), event)
	if err != nil {
		h.logger.Error("enqueue failed",
			zap.String("channel", string(event.Channel)),
			zap.Error(err))
		return util.NewTransientError("enqueue failed", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"entry_id": entryID},
	})
}

func emailContent(email *dto.InboundEmail) string {
	subject := strings.TrimSpace(email.Subject)
	body := strings.TrimSpace(email.Body)
	if subject == "" {
		return body
	}
	if body == "" {
		return subject
	}
	return subject + "\n\n" + body
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func formParams(c *fiber.Ctx) map[string]string {
	params := map[string]string{}
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return params
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{"code": "UNAUTHORIZED", "message": message},
	})
}
