package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func pass(c *fiber.Ctx) error { return c.Next() }

func TestAuditRoute(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, kind, target_id, point_id, actor, outcome, notes, created_at`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "target_id", "point_id", "actor", "outcome", "notes", "created_at"}).
			AddRow("ev-1", KindPoint, "p1", "p1", "admin", "deleted", "", time.Now()))

	app := fiber.New()
	RegisterRoutes(app.Group("/api/admin"), NewService(mock), pass, pass)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/audit?limit=5", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status: %v", err)
	}
}

func TestAuditRouteWithoutDatabase(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/api/admin"), nil, pass, pass)

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without database")
	}
}
