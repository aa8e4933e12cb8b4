package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Transfer processes a user-to-user tip.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	from, err := identity.Parse(req.From)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid from: "+err.Error())
	}
	to, err := identity.Parse(req.To)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid to: "+err.Error())
	}
	units, err := amount.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.service.Transfer(c.UserContext(), from, to, units); err != nil {
		var insufficient *ledger.InsufficientFundsError
		switch {
		case errors.As(err, &insufficient):
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error":  err.Error(),
				"amount": amount.Format(insufficient.Amount),
			})
		case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrSelfTransfer):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	balance, err := h.service.Balance(c.UserContext(), from)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"from":         from.String(),
		"to":           to.String(),
		"amount":       amount.Format(units),
		"from_balance": amount.Format(balance),
	})
}
