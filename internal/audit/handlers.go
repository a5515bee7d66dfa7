package audit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the audit log under the admin router. svc may be nil
// when Postgres is unavailable; the route then answers 503.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware, adminOnly fiber.Handler) {
	r.Get("/audit", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		if svc == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "audit log not configured")
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		events, err := svc.List(c.Context(), limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(events)
	})
}
