package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-pipeline/internal/service"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// TicketsHandler exposes the external resolution signal. Escalated tickets are
// closed by humans beyond the escalations stream and are rejected here.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// Resolve POST /tickets/:id/resolve.
func (h *TicketsHandler) Resolve(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return util.NewValidationError("ticket id required", nil)
	}
	if err := h.service.Resolve(c.UserContext(), id, time.Now().UTC()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"ticket_id": id, "status": "resolved"}})
}
