package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Alwanly/service-source-ingest/internal/server/admin/dto"
	"github.com/Alwanly/service-source-ingest/internal/server/admin/usecase"
	"github.com/Alwanly/service-source-ingest/pkg/deps"
	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/validator"
	"github.com/Alwanly/service-source-ingest/pkg/wrapper"
)

type Handler struct {
	Logger  *logger.CanonicalLogger
	UseCase usecase.UseCaseInterface
}

type Options struct {
	// StaleAfter is passed to the health check.
	StaleAfter time.Duration
}

func NewHandler(d deps.App, opts Options) *Handler {
	var running func() []string
	if d.Pollers != nil {
		running = d.Pollers.Running
	}

	uc := usecase.NewUseCase(usecase.UseCase{
		Repo:       d.Store,
		Logger:     d.Logger,
		Running:    running,
		Pub:        d.Pub,
		Wake:       d.Wake,
		StaleAfter: opts.StaleAfter,
	})

	h := &Handler{
		Logger:  d.Logger,
		UseCase: uc,
	}
	h.Register(d.Fiber, d.Middleware.BasicAuthAdmin())
	return h
}

// Register mounts the routes. auth guards everything except /health.
func (h *Handler) Register(app fiber.Router, auth fiber.Handler) {
	app.Get("/health", h.health)

	sources := app.Group("/sources", auth)
	sources.Get("", h.listSources)
	sources.Post("", h.createSource)
	sources.Get("/:name", h.getSource)
	sources.Put("/:name", h.updateSource)
	sources.Delete("/:name", h.deleteSource)
	sources.Put("/:name/enabled", h.setEnabled)
	sources.Post("/:name/restart", h.restartSource)

	settings := app.Group("/settings", auth)
	settings.Get("/:key", h.getSetting)
	settings.Put("/:key", h.setSetting)
}

func (h *Handler) health(c *fiber.Ctx) error {
	res := h.UseCase.Health(c.UserContext())
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) listSources(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "list_sources"))

	res := h.UseCase.ListSources(c.UserContext())
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) getSource(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "get_source"))

	res := h.UseCase.GetSource(c.UserContext(), c.Params("name"))
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) createSource(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "create_source"))

	req := new(dto.CreateSourceRequest)
	if res, ok := bind(c, req); !ok {
		return c.Status(res.Code).JSON(res)
	}

	res := h.UseCase.CreateSource(c.UserContext(), req)
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) updateSource(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "update_source"))

	req := new(dto.UpdateSourceRequest)
	if res, ok := bind(c, req); !ok {
		return c.Status(res.Code).JSON(res)
	}

	res := h.UseCase.UpdateSource(c.UserContext(), c.Params("name"), req)
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) setEnabled(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "set_enabled"))

	req := new(dto.SetEnabledRequest)
	if res, ok := bind(c, req); !ok {
		return c.Status(res.Code).JSON(res)
	}

	res := h.UseCase.SetEnabled(c.UserContext(), c.Params("name"), *req.Enabled)
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) restartSource(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "restart_source"))

	res := h.UseCase.RequestRestart(c.UserContext(), c.Params("name"))
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) deleteSource(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "delete_source"))

	res := h.UseCase.DeleteSource(c.UserContext(), c.Params("name"))
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) getSetting(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "get_setting"))

	res := h.UseCase.GetSetting(c.UserContext(), c.Params("key"))
	return c.Status(res.Code).JSON(res)
}

func (h *Handler) setSetting(c *fiber.Ctx) error {
	logger.AddToContext(c.UserContext(), logger.String(logger.FieldOperation, "set_setting"))

	req := new(dto.SetSettingRequest)
	if res, ok := bind(c, req); !ok {
		return c.Status(res.Code).JSON(res)
	}

	res := h.UseCase.SetSetting(c.UserContext(), c.Params("key"), req.Value)
	return c.Status(res.Code).JSON(res)
}

// bind parses and validates the JSON body into req.
func bind(c *fiber.Ctx, req interface{}) (wrapper.JSONResult, bool) {
	if err := c.BodyParser(req); err != nil {
		logger.AddToContext(c.UserContext(), logger.Error(err))
		return wrapper.ResponseFailed(fiber.StatusBadRequest, "Invalid request body", nil), false
	}
	if err := validator.ValidateStruct(req); err != nil {
		logger.AddToContext(c.UserContext(), logger.Error(err))
		return wrapper.ResponseInvalid(fiber.StatusBadRequest, validator.TranslateError(err)), false
	}
	return wrapper.JSONResult{}, true
}
