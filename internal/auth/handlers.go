package auth

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the identity probes. r is expected to be /api.
func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/admin/check", OptionalJWT(svc), func(c *fiber.Ctx) error {
		id, ok := FromCtx(c)
		if !ok || !svc.IsAdmin(id) {
			return fiber.NewError(fiber.StatusUnauthorized, "not an admin")
		}
		return c.JSON(fiber.Map{"admin": true})
	})

	r.Get("/me", JWTMiddleware(svc), func(c *fiber.Ctx) error {
		id, _ := FromCtx(c)
		return c.JSON(fiber.Map{
			"userId": id.UserID,
			"email":  id.Email,
			"admin":  svc.IsAdmin(id),
		})
	})
}
