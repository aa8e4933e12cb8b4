package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/identity"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	User    string `json:"user"`
	Balance string `json:"balance"`
	Units   uint64 `json:"units"`
}

type statusResponse struct {
	Network          string `json:"network"`
	Online           bool   `json:"online"`
	State            string `json:"state"`
	WithdrawalsLock  bool   `json:"withdrawals_locked"`
	WalletBalance    string `json:"wallet_balance"`
	UsersBalance     string `json:"users_balance"`
	SyncedTopoheight uint64 `json:"synced_topoheight"`
	StableTopoheight uint64 `json:"stable_topoheight"`
	PendingDeposits  int    `json:"pending_deposits"`
}

func userParam(c *fiber.Ctx) (identity.UserIdentity, error) {
	user, err := identity.FromParts(c.Params("platform"), c.Params("id"))
	if err != nil {
		if errors.Is(err, identity.ErrUnknownPlatform) {
			return identity.UserIdentity{}, fiber.NewError(http.StatusNotFound, err.Error())
		}
		return identity.UserIdentity{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return user, nil
}

// Balance returns the user's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	user, err := userParam(c)
	if err != nil {
		return err
	}
	units, err := h.service.BalanceOf(c.UserContext(), user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		User:    user.String(),
		Balance: amount.Format(units),
		Units:   units,
	})
}

// DepositAddress returns the user's integrated deposit address.
func (h *Handler) DepositAddress(c *fiber.Ctx) error {
	user, err := userParam(c)
	if err != nil {
		return err
	}
	addr, err := h.service.DepositAddressFor(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user":    user.String(),
		"address": addr.String(),
	})
}

// Status reports wallet and reconciliation state.
func (h *Handler) Status(c *fiber.Ctx) error {
	st, err := h.service.Status(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(statusResponse{
		Network:          string(st.Network),
		Online:           st.Online,
		State:            st.State.String(),
		WithdrawalsLock:  st.WithdrawalsLock,
		WalletBalance:    amount.Format(st.WalletBalance),
		UsersBalance:     amount.Format(st.UsersBalance),
		SyncedTopoheight: st.SyncedTopoheight,
		StableTopoheight: st.StableTopoheight,
		PendingDeposits:  st.PendingDeposits,
	})
}
