package controller

import (
	"curriculum-qa-be/internal/dto"
	"curriculum-qa-be/internal/pkg/serverutils"
	"curriculum-qa-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAskController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Ask(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	ResetSession(ctx *fiber.Ctx) error
}

type askController struct {
	askService service.IAskService
}

func NewAskController(askService service.IAskService) IAskController {
	return &askController{askService: askService}
}

func (c *askController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/ask/v1")
	h.Use(auth)
	h.Post("", c.Ask)
	h.Get("sessions/:thread_id", c.GetSession)
	h.Delete("sessions/:thread_id", c.ResetSession)
}

func (c *askController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.askService.Ask(ctx.UserContext(), &req, ctx.QueryBool("debug"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Question answered", res))
}

func (c *askController) GetSession(ctx *fiber.Ctx) error {
	res, err := c.askService.GetSession(ctx.UserContext(), ctx.Params("thread_id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session history", res))
}

func (c *askController) ResetSession(ctx *fiber.Ctx) error {
	if err := c.askService.ResetSession(ctx.UserContext(), ctx.Params("thread_id")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Session reset", nil))
}
