package controller

import (
	ws "curriculum-qa-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// StreamController upgrades GET /ask/v1/threads/:thread_id/stream to a
// websocket that receives the thread's progress lines and answers.
type StreamController struct {
	hub *ws.Hub
}

func NewStreamController(hub *ws.Hub) *StreamController {
	return &StreamController{hub: hub}
}

func (c *StreamController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/ask/v1/threads")
	h.Use(auth)
	h.Use("/:thread_id/stream", upgradeOnly)
	h.Get("/:thread_id/stream", websocket.New(func(conn *websocket.Conn) {
		ws.ServeWs(c.hub, conn, conn.Params("thread_id"))
	}))
}

func upgradeOnly(ctx *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(ctx) {
		return ctx.Next()
	}
	return fiber.ErrUpgradeRequired
}
