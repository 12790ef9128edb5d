package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
)

type AuthMiddleware struct {
	cfg config.Config
	log zerolog.Logger
}

func NewAuthMiddleware(cfg config.Config, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, log: log.With().Str("component", "auth").Logger()}
}

// AuthMiddleware accepts a session cookie or an "Authorization: Bearer" header carrying a signed JWT.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.cfg.CookieName)
		fromCookie := tokenString != ""
		if !fromCookie {
			tokenString = bearerToken(c.Get(fiber.HeaderAuthorization))
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": fiber.Map{"code": "UNAUTHORIZED", "message": "missing session cookie or bearer token"},
			})
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
		if err != nil || claims.UserID == "" {
			if fromCookie {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})
			}
			m.log.Debug().Err(err).Msg("token validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": fiber.Map{"code": "UNAUTHORIZED", "message": "invalid or expired token"},
			})
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
