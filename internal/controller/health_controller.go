package controller

import (
	"context"
	"time"

	"curriculum-qa-be/internal/dto"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

type HealthController struct {
	programs int
	checks   map[string]HealthCheck
}

func NewHealthController(programs int, checks map[string]HealthCheck) *HealthController {
	return &HealthController{programs: programs, checks: checks}
}

func (c *HealthController) RegisterRoutes(app fiber.Router) {
	app.Get("/health", c.Health)
}

// Health is 200 while every dependency answers, 503 otherwise
func (c *HealthController) Health(ctx *fiber.Ctx) error {
	checkCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	res := dto.HealthResponse{Status: "ok", Programs: c.programs, Checks: map[string]string{}}
	for name, check := range c.checks {
		if err := check(checkCtx); err != nil {
			res.Status = "degraded"
			res.Checks[name] = err.Error()
			continue
		}
		res.Checks[name] = "ok"
	}

	if res.Status != "ok" {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(res)
	}
	return ctx.JSON(res)
}
