package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/congo-pay/tipvault/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires on-chain withdrawal endpoints behind limiter.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, limiter fiber.Handler) {
    r.Post("/withdrawals", limiter, h.Withdraw)
}
