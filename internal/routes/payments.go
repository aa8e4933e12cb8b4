package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/congo-pay/tipvault/internal/payments"
)

// RegisterPaymentRoutes wires off-chain transfer endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
    r.Post("/transfers", h.Transfer)
}
