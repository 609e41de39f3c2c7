package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	authentication "github.com/Alwanly/service-source-ingest/pkg/auth"
)

type IAuthMiddleware interface {
	BasicAuthAdmin() fiber.Handler
}

type AuthMiddleware struct {
	Basic authentication.IBasicAuthService
}

// mockery:ignore
type AuthConfig func(*AuthOpts)

type AuthOpts struct {
	*authentication.BasicAuthTConfig
}

func SetBasicAuth(basicAuthConfig *authentication.BasicAuthTConfig) AuthConfig {
	return func(o *AuthOpts) {
		o.BasicAuthTConfig = basicAuthConfig
	}
}

func NewAuthMiddleware(opts ...AuthConfig) *AuthMiddleware {
	var o AuthOpts
	for _, opt := range opts {
		opt(&o)
	}

	return &AuthMiddleware{
		Basic: authentication.NewBasicAuthService(o.BasicAuthTConfig),
	}
}

func (a *AuthMiddleware) BasicAuthAdmin() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		auth := ctx.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(auth, "Basic ") {
			return responseUnauthorized(ctx, "Invalid auth")
		}

		username, password := a.Basic.DecodeFromHeader(auth)
		if !a.Basic.ValidateAdmin(username, password) {
			return responseUnauthorized(ctx, "Invalid auth")
		}
		return ctx.Next()
	}
}

func responseUnauthorized(c *fiber.Ctx, message string) error {
	c.Set("WWW-Authenticate", "Basic realm=Restricted")
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
		"message": message,
	})
}
