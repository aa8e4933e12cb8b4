package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/congo-pay/tipvault/internal/wallet"
)

// RegisterWalletRoutes wires balance, deposit address and status endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
    r.Get("/users/:platform/:id/balance", h.Balance)
    r.Get("/users/:platform/:id/deposit-address", h.DepositAddress)
    r.Get("/status", h.Status)
}
