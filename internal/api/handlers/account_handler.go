package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/rs/zerolog"
)

const maxInsightDays = 90

type AccountHandler struct {
	accounts repository.SocialAccountRepository
	insights repository.AccountInsightRepository
	now      func() time.Time
	log      zerolog.Logger
}

func NewAccountHandler(accounts repository.SocialAccountRepository, insights repository.AccountInsightRepository, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		insights: insights,
		now:      time.Now,
		log:      log.With().Str("component", "http").Logger(),
	}
}

func (h *AccountHandler) Register(r fiber.Router) {
	r.Get("/accounts", h.ListSocialAccounts)
	r.Get("/accounts/:id/insights", h.GetAccountInsights)
	r.Post("/accounts/:id/deactivate", h.DeactivateSocialAccount)
}

func (h *AccountHandler) ListSocialAccounts(c *fiber.Ctx) error {
	accounts, err := h.accounts.ListByUserID(c.Context(), GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(accounts)
}

// GetAccountInsights returns the stored daily insights of the last ?days days (default 30).
func (h *AccountHandler) GetAccountInsights(c *fiber.Ctx) error {
	id, err := h.ownedAccount(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	days := c.QueryInt("days", 30)
	if days < 1 || days > maxInsightDays {
		return respondError(c, h.log, fiber.NewError(fiber.StatusBadRequest, "days must be between 1 and 90"))
	}

	since := h.now().UTC().AddDate(0, 0, -days)
	rows, err := h.insights.ListByAccount(c.Context(), id, since)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"account_id": id, "days": rows})
}

func (h *AccountHandler) ownedAccount(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "id must be a positive integer")
	}
	ok, err := h.accounts.CheckByUserID(c.Context(), int64(id), GetUserID(c))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, service.ErrNotFound
	}
	return int64(id), nil
}

// DeactivateSocialAccount stops publishing for the account. Pending posts fail with ACCOUNT_UNAVAILABLE when they fire.
func (h *AccountHandler) DeactivateSocialAccount(c *fiber.Ctx) error {
	id, err := h.ownedAccount(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	if err := h.accounts.SetActive(c.Context(), id, false); err != nil {
		return respondError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
