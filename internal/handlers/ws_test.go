package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"linguachat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func authApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	users := services.NewUserService("test-secret")
	token, err := users.GenerateJWT(7, "nimal")
	require.NoError(t, err)

	app := fiber.New()
	app.Use(AuthMiddleware(users))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":  c.Locals("user_id"),
			"username": c.Locals("username"),
		})
	})
	return app, token
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	app, token := authApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami?auth="+token, nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	require.Equal(t, float64(7), body["user_id"])
	require.Equal(t, "nimal", body["username"])
}

func TestAuthMiddlewareTokenParamAndHeader(t *testing.T) {
	app, token := authApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddlewareQueryBeatsHeader(t *testing.T) {
	app, token := authApp(t)

	// A garbage header must not shadow a valid auth query field.
	req := httptest.NewRequest(http.MethodGet, "/whoami?auth="+token, nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddlewareRejectsMissingOrInvalid(t *testing.T) {
	app, _ := authApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/whoami?auth=garbage", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A token signed with a different secret is rejected.
	other := services.NewUserService("other-secret")
	forged, err := other.GenerateJWT(7, "mallory")
	require.NoError(t, err)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/whoami?auth="+forged, nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
