package meetup

import (
	"strconv"

	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts meetup routes on r, expected to be /api/meetups.
func RegisterRoutes(r fiber.Router, svc *Service, authSvc *auth.Service, writeLimit fiber.Handler) {
	r.Use(auth.JWTMiddleware(authSvc))
	if writeLimit == nil {
		writeLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	r.Post("/", writeLimit, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var req CreateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		m, err := svc.Create(c.Context(), req, id.UserID, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		spotID := c.Query("spotId")
		if spotID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "spotId required")
		}
		meetups, err := svc.ListForSpot(c.Context(), spotID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(meetups)
	})

	r.Get("/mine", func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		meetups, err := svc.Mine(c.Context(), id.UserID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(meetups)
	})

	r.Get("/nearby", func(c *fiber.Ctx) error {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		radius := DefaultRadiusKm
		if raw := c.Query("radius"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "radius must be a number")
			}
			radius = v
		}
		found, err := svc.Nearby(c.Context(), lat, lng, radius)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(found)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		m, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	})

	r.Patch("/:id", func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var req UpdateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		m, err := svc.Update(c.Context(), c.Params("id"), req, id.UserID, authSvc.IsAdmin(id))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	})

	r.Delete("/:id", func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		if err := svc.Delete(c.Context(), c.Params("id"), id.UserID, authSvc.IsAdmin(id)); err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"success": true})
	})

	r.Post("/:id/join", writeLimit, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		m, err := svc.Join(c.Context(), c.Params("id"), id.UserID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	})

	r.Post("/:id/leave", func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		m, err := svc.Leave(c.Context(), c.Params("id"), id.UserID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	})
}
