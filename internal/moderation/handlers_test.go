package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/spot"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(t *testing.T) (*fiber.App, *Service, *spot.Service, *auth.Service) {
	t.Helper()
	svc, spots, _, _ := newTestService(t)
	authSvc := auth.NewService("test-secret", "admin@example.com")
	app := fiber.New()
	RegisterRoutes(app.Group("/api"), svc, authSvc, nil)
	return app, svc, spots, authSvc
}

func call(t *testing.T, app *fiber.App, authSvc *auth.Service, method, path, email string, body any) *http.Response {
	t.Helper()
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		tok, err := authSvc.SignToken("id-"+email, email, time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestReportRoutes(t *testing.T) {
	app, _, spots, authSvc := newTestApp(t)
	p := newPoint(t, spots, "rail")
	base := "/api/points/" + p.ID

	resp := call(t, app, authSvc, http.MethodPost, base+"/report", "", map[string]string{"reason": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = call(t, app, authSvc, http.MethodPost, base+"/report", "user@example.com", map[string]string{"reason": "broken rail"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit via alias: %d", resp.StatusCode)
	}
	var report spot.Report
	_ = json.NewDecoder(resp.Body).Decode(&report)

	resp = call(t, app, authSvc, http.MethodPost, base+"/reports", "user@example.com", map[string]string{"reason": "still broken"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}

	resp = call(t, app, authSvc, http.MethodGet, base+"/reports", "user@example.com", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin list, got %d", resp.StatusCode)
	}

	resp = call(t, app, authSvc, http.MethodGet, "/api/admin/reports", "admin@example.com", nil)
	var pending []PendingReport
	_ = json.NewDecoder(resp.Body).Decode(&pending)
	if len(pending) != 1 || pending[0].PointName != "rail" {
		t.Fatalf("unexpected pending reports: %+v", pending)
	}

	resp = call(t, app, authSvc, http.MethodPatch, "/api/admin/reports/"+report.ID, "admin@example.com", map[string]string{"action": "deny"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deny: %d", resp.StatusCode)
	}
	resp = call(t, app, authSvc, http.MethodPatch, base+"/reports", "admin@example.com", map[string]string{"reportId": report.ID, "action": "accept"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for denied report, got %d", resp.StatusCode)
	}
}

func TestProposalRoutes(t *testing.T) {
	app, _, spots, authSvc := newTestApp(t)
	p := newPoint(t, spots, "park")
	base := "/api/points/" + p.ID

	body := map[string]string{"proposedName": "Foo", "proposedType": "park", "reason": "official name"}
	resp := call(t, app, authSvc, http.MethodPost, base+"/edit-proposals", "user@example.com", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d", resp.StatusCode)
	}
	var prop spot.EditProposal
	_ = json.NewDecoder(resp.Body).Decode(&prop)

	resp = call(t, app, authSvc, http.MethodGet, base+"/proposals", "user@example.com", nil)
	var listed []spot.EditProposal
	_ = json.NewDecoder(resp.Body).Decode(&listed)
	if len(listed) != 1 {
		t.Fatalf("expected 1 pending proposal, got %d", len(listed))
	}

	resp = call(t, app, authSvc, http.MethodPatch, "/api/admin/proposals/"+prop.ID, "user@example.com", map[string]string{"status": "approved"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp = call(t, app, authSvc, http.MethodPatch, base+"/proposals", "admin@example.com", map[string]string{"proposalId": prop.ID, "status": "approved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d", resp.StatusCode)
	}

	after, _ := spots.GetPoint(context.Background(), p.ID)
	if after.Name != "Foo" || after.Type != spot.TypePark {
		t.Fatalf("point not updated: %+v", after)
	}

	resp = call(t, app, authSvc, http.MethodGet, "/api/admin/proposals", "admin@example.com", nil)
	var pending []PendingProposal
	_ = json.NewDecoder(resp.Body).Decode(&pending)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending)
	}
}
