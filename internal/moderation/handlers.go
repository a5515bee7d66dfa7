package moderation

import (
	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts report and proposal routes. r is expected to be /api.
// The /report and /edit-proposals paths are aliases kept for older clients.
func RegisterRoutes(r fiber.Router, svc *Service, authSvc *auth.Service, writeLimit fiber.Handler) {
	authMiddleware := auth.JWTMiddleware(authSvc)
	adminOnly := auth.AdminOnly(authSvc)
	if writeLimit == nil {
		writeLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	submitReport := func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		report, err := svc.SubmitReport(c.Context(), c.Params("id"), body.Reason, id.UserID, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(report)
	}
	listReports := func(c *fiber.Ctx) error {
		reports, err := svc.ListReports(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(reports)
	}
	resolveOnPoint := func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			ReportID string `json:"reportId"`
			Action   string `json:"action"`
		}
		if err := c.BodyParser(&body); err != nil || body.ReportID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reportId and action required")
		}
		report, err := svc.ResolveReport(c.Context(), c.Params("id"), body.ReportID, body.Action, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(report)
	}

	for _, path := range []string{"/points/:id/reports", "/points/:id/report"} {
		r.Post(path, authMiddleware, writeLimit, submitReport)
		r.Get(path, authMiddleware, adminOnly, listReports)
		r.Patch(path, authMiddleware, adminOnly, resolveOnPoint)
	}

	submitProposal := func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body ProposalInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		prop, err := svc.SubmitProposal(c.Context(), c.Params("id"), body, id.UserID, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(prop)
	}
	listProposals := func(c *fiber.Ctx) error {
		props, err := svc.ListProposals(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(props)
	}
	reviewOnPoint := func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			ProposalID string `json:"proposalId"`
			Status     string `json:"status"`
			AdminNotes string `json:"adminNotes"`
		}
		if err := c.BodyParser(&body); err != nil || body.ProposalID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "proposalId and status required")
		}
		prop, err := svc.ReviewProposal(c.Context(), c.Params("id"), body.ProposalID, body.Status, body.AdminNotes, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(prop)
	}

	for _, path := range []string{"/points/:id/proposals", "/points/:id/edit-proposals"} {
		r.Post(path, authMiddleware, writeLimit, submitProposal)
		r.Get(path, authMiddleware, listProposals)
		r.Patch(path, authMiddleware, adminOnly, reviewOnPoint)
	}

	r.Get("/admin/reports", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		reports, err := svc.PendingReports(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(reports)
	})

	r.Patch("/admin/reports/:id", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			Action string `json:"action"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		report, err := svc.ResolveReport(c.Context(), "", c.Params("id"), body.Action, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(report)
	})

	r.Get("/admin/proposals", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		props, err := svc.PendingProposals(c.Context())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(props)
	})

	r.Patch("/admin/proposals/:id", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		id, _ := auth.FromCtx(c)
		var body struct {
			Status     string `json:"status"`
			AdminNotes string `json:"adminNotes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		prop, err := svc.ReviewProposal(c.Context(), "", c.Params("id"), body.Status, body.AdminNotes, id.Email)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(prop)
	})
}
