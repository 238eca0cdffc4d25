package controller

import (
	"net/http/httptest"
	"testing"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/pkg/serverutils"
	ws "curriculum-qa-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRequiresUpgrade(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: serverutils.ErrorHandler})
	NewStreamController(ws.NewHub(nil, logger.NewNopLogger())).
		RegisterRoutes(app.Group("/api"), serverutils.NewJwtMiddleware(""))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/ask/v1/threads/t1/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: serverutils.ErrorHandler})
	NewStreamController(ws.NewHub(nil, logger.NewNopLogger())).
		RegisterRoutes(app.Group("/api"), serverutils.NewJwtMiddleware("secret"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/ask/v1/threads/t1/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
