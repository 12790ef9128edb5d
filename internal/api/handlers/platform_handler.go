package handlers

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
)

type PlatformHandler struct {
	ps  service.PlatformService
	cfg config.Config
	log zerolog.Logger
}

func NewPlatformHandler(ps service.PlatformService, cfg config.Config, log zerolog.Logger) *PlatformHandler {
	return &PlatformHandler{ps: ps, cfg: cfg, log: log.With().Str("component", "http").Logger()}
}

func (h *PlatformHandler) Register(r fiber.Router) {
	r.Get("/auth/instagram", h.AddSocialAccount)
	r.Get("/auth/instagram/callback", h.CallbackHandler)
}

// AddSocialAccount redirects to the consent page. The caller's session JWT travels as the OAuth state.
func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	state := c.Query("state")
	if state == "" {
		state = c.Cookies(h.cfg.CookieName)
	}
	if _, err := utils.ValidateToken(h.cfg.SecretKey, state); err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "a valid session is required")
	}
	return c.Redirect(h.ps.GetAuthURL(state))
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	claims, err := utils.ValidateToken(h.cfg.SecretKey, c.Query("state"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_STATE_PARAM", "unable to validate user")
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_STATE_PARAM", "unable to validate user")
	}

	if reason := c.Query("error_reason"); reason != "" {
		return c.Redirect(h.frontendURL("error", reason))
	}

	account, err := h.ps.Connect(c.Context(), userID, c.Query("code"))
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("instagram connect failed")
		code := "connect_failed"
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			code = string(verr.Code)
		}
		return c.Redirect(h.frontendURL("error", code))
	}
	return c.Redirect(h.frontendURL("connected", account.Username))
}

func (h *PlatformHandler) frontendURL(key, value string) string {
	q := url.Values{}
	q.Set(key, value)
	return h.cfg.FrontendURL + "/accounts?" + q.Encode()
}
