package withdrawal

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type withdrawRequest struct {
	User    string `json:"user"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// Withdraw submits an on-chain payout.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := identity.Parse(req.User)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user: "+err.Error())
	}
	destination, err := chain.ParseAddress(req.Address)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	units, err := amount.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Withdraw(c.UserContext(), user, destination, units)
	if err != nil {
		var (
			unsettled    *UnsettledError
			insufficient *ledger.InsufficientFundsError
			forFee       *InsufficientFundsForFeeError
		)
		switch {
		case errors.As(err, &unsettled):
			// The payout is on the network. A 2xx keeps the idempotency key so
			// a client retry cannot pay out twice.
			return c.Status(http.StatusAccepted).JSON(fiber.Map{
				"hash":   unsettled.Hash.String(),
				"amount": amount.Format(unsettled.Amount),
				"fee":    amount.Format(unsettled.Fee),
				"status": "submitted",
				"error":  err.Error(),
			})
		case errors.As(err, &insufficient):
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error":  err.Error(),
				"amount": amount.Format(insufficient.Amount),
			})
		case errors.As(err, &forFee):
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"fee":   amount.Format(forFee.Fee),
			})
		case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ErrWrongNetwork):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrWithdrawalsLocked), errors.Is(err, ErrWalletOffline):
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		default:
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"hash":         res.Hash.String(),
		"amount":       amount.Format(res.Amount),
		"fee":          amount.Format(res.Fee),
		"balance":      amount.Format(res.Balance),
		"submitted_at": res.SubmittedAt,
	})
}
