package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/wrapper"
)

// ErrorHandler renders errors returned by handlers in the JSONResult envelope.
// Internal errors are not echoed to the client.
func ErrorHandler(log *logger.CanonicalLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		log.HTTPError(c.Method(), c.Path(), code, err)

		res := wrapper.ResponseFailed(code, message, nil)
		return c.Status(res.Code).JSON(res)
	}
}
