package serverutils

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type askRequest struct {
	Question string `json:"question" validate:"required,min=2,max=10"`
	ThreadID string `json:"thread_id" validate:"omitempty,max=4"`
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(askRequest{Question: "hello"}))

	err := ValidateRequest(askRequest{ThreadID: "too-long"})
	var fe *fiber.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fiber.StatusBadRequest, fe.Code)
	assert.Contains(t, fe.Message, "question is required")
	assert.Contains(t, fe.Message, "thread_id must be at most 4 characters")
}

func newApp(secret string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/me", NewJwtMiddleware(secret), func(ctx *fiber.Ctx) error {
		id, _ := ctx.Locals("user_id").(string)
		return ctx.SendString(id)
	})
	app.Get("/boom", func(ctx *fiber.Ctx) error {
		return errors.New("database exploded")
	})
	return app
}

func TestJwtMiddleware(t *testing.T) {
	const secret = "s3cret"
	app := newApp(secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "user-7", string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/me?access_token="+signed, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJwtMiddlewareDisabledWithoutSecret(t *testing.T) {
	resp, err := newApp("").Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestErrorHandlerHidesInternals(t *testing.T) {
	resp, err := newApp("").Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "exploded")
}
