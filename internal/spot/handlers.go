package spot

import (
	"context"
	"errors"
	"time"

	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/ratelimit"
	"backend-skatespots/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

// CreationLimiter gates point creation per user.
type CreationLimiter interface {
	Allow(ctx context.Context, userID string) (ratelimit.Decision, error)
}

type Deps struct {
	Auth          *auth.Service
	Limiter       CreationLimiter
	WriteLimit    fiber.Handler
	ImportURL     string
	ImportTimeout time.Duration
}

// RegisterRoutes mounts point, comment and vote routes. r is expected to be /api.
func RegisterRoutes(r fiber.Router, svc *Service, deps Deps) {
	authMiddleware := auth.JWTMiddleware(deps.Auth)
	adminOnly := auth.AdminOnly(deps.Auth)
	writeLimit := deps.WriteLimit
	if writeLimit == nil {
		writeLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	r.Get("/points.geojson", func(c *fiber.Ctx) error {
		raw, err := svc.GeoJSON(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(raw)
	})

	r.Get("/points", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		points, err := svc.ListPoints(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		views, err := svc.Views(c.Context(), points, deps.Auth.IsAdmin(id))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(views)
	})

	r.Post("/points", authMiddleware, writeLimit, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var req CreateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if _, err := validateCreate(req); err != nil {
			return apperr.ToFiber(err)
		}

		if deps.Limiter != nil {
			decision, err := deps.Limiter.Allow(c.Context(), id.UserID)
			if err != nil {
				return apperr.ToFiber(err)
			}
			if !decision.Allowed {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":         "rate limit exceeded, try again later",
					"remainingTime": decision.RemainingTime.Milliseconds(),
				})
			}
		}

		p, err := svc.CreatePoint(c.Context(), req, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	r.Get("/points/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		view, err := svc.View(c.Context(), c.Params("id"), deps.Auth.IsAdmin(id))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(view)
	})

	r.Delete("/points/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		if err := svc.DeletePoint(c.Context(), c.Params("id"), id.Email, deps.Auth.IsAdmin(id)); err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"success": true})
	})

	r.Get("/points/:id/comments", authMiddleware, func(c *fiber.Ctx) error {
		comments, err := svc.ListComments(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(comments)
	})

	r.Post("/points/:id/comments", authMiddleware, writeLimit, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			Content string `json:"content"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		comment, err := svc.AddComment(c.Context(), c.Params("id"), body.Content, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(comment)
	})

	r.Patch("/points/:id/comments", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			CommentID string `json:"commentId"`
			Content   string `json:"content"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		comment, err := svc.UpdateComment(c.Context(), c.Params("id"), body.CommentID, body.Content, id.Email, deps.Auth.IsAdmin(id))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(comment)
	})

	r.Delete("/points/:id/comments", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		err := svc.DeleteComment(c.Context(), c.Params("id"), c.Query("commentId"), id.Email, deps.Auth.IsAdmin(id))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"success": true})
	})

	r.Get("/points/:id/likes", authMiddleware, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		summary, err := svc.Votes(c.Context(), c.Params("id"), id.UserID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(summary)
	})

	r.Post("/points/:id/likes", authMiddleware, writeLimit, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			Status *string `json:"status"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		summary, err := svc.Vote(c.Context(), c.Params("id"), id.UserID, body.Status)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(summary)
	})

	r.Delete("/admin/points", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		n, err := svc.DeleteAll(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"success": true, "deleted": n})
	})

	r.Post("/admin/migrate", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		res, err := svc.Migrate(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(res)
	})

	r.Post("/admin/import", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		var body struct {
			URL string `json:"url"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		url := body.URL
		if url == "" {
			url = deps.ImportURL
		}
		if url == "" {
			return fiber.NewError(fiber.StatusBadRequest, "no import url configured")
		}
		res, err := svc.Import(c.Context(), url, deps.ImportTimeout)
		if errors.Is(err, ErrImportSource) {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(res)
	})
}
