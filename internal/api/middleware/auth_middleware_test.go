package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuthApp() *fiber.App {
	cfg := config.Config{SecretKey: testSecret, CookieName: "session"}
	app := fiber.New()
	app.Use(NewAuthMiddleware(cfg, zerolog.Nop()).AuthMiddleware())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := utils.GenerateToken(testSecret, "42", time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateToken(testSecret, "42", -time.Minute)
	require.NoError(t, err)
	otherKey, err := utils.GenerateToken("ffffffffffffffffffffffffffffffff", "42", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		prepare func(*http.Request)
		status  int
		body    string
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: valid}) }, http.StatusOK, "42"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK, "42"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid) }, http.StatusOK, "42"},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+valid) }, http.StatusUnauthorized, ""},
		{"expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, http.StatusUnauthorized, ""},
		{"wrong key", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: otherKey}) }, http.StatusUnauthorized, ""},
	}

	app := newAuthApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tt.prepare(req)

			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				raw, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(raw))
			}
		})
	}
}

func TestAuthMiddleware_ClearsRejectedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "garbage"})

	resp, err := newAuthApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
}
