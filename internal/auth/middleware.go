package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const identityKey = "identity"

// JWTMiddleware validates bearer tokens and stores the caller's Identity in
// locals. Requests without a valid token get 401.
func JWTMiddleware(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		id, err := svc.ParseToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		c.Locals(identityKey, id)
		return c.Next()
	}
}

// OptionalJWT attaches an Identity when a valid token is present and lets
// anonymous requests through.
func OptionalJWT(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearerFromHeader(c.Get(fiber.HeaderAuthorization)); token != "" {
			if id, err := svc.ParseToken(token); err == nil {
				c.Locals(identityKey, id)
			}
		}
		return c.Next()
	}
}

// AdminOnly must run after JWTMiddleware. It answers 401 without a session
// and 403 for a session that is not the admin.
func AdminOnly(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := FromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		if !svc.IsAdmin(id) {
			return fiber.NewError(fiber.StatusForbidden, "admin access required")
		}
		return c.Next()
	}
}

func FromCtx(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// WithIdentity stores id in the request locals.
func WithIdentity(c *fiber.Ctx, id Identity) {
	c.Locals(identityKey, id)
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
