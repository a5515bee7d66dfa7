package spot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/ratelimit"

	"github.com/gofiber/fiber/v2"
)

const adminEmail = "admin@example.com"

func newTestApp(t *testing.T, limit int) (*fiber.App, *Service, *auth.Service) {
	t.Helper()
	svc, rdb, _ := newTestService(t)
	authSvc := auth.NewService("test-secret", adminEmail)

	app := fiber.New()
	RegisterRoutes(app.Group("/api"), svc, Deps{
		Auth:    authSvc,
		Limiter: ratelimit.NewPointLimiter(rdb, limit, 45*time.Minute),
	})
	return app, svc, authSvc
}

func token(t *testing.T, svc *auth.Service, userID, email string) string {
	t.Helper()
	tok, err := svc.SignToken(userID, email, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(t *testing.T, app *fiber.App, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestCreatePointRequiresAuth(t *testing.T) {
	app, _, _ := newTestApp(t, 5)
	resp := doJSON(t, app, http.MethodPost, "/api/points", "", map[string]any{"name": "x", "coordinates": []float64{1, 1}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreatePointRateLimited(t *testing.T) {
	app, _, authSvc := newTestApp(t, 2)
	bearer := token(t, authSvc, "u1", "skater@example.com")
	body := map[string]any{"name": "ledge", "coordinates": []float64{41.38, 2.17}}

	for i := 0; i < 2; i++ {
		resp := doJSON(t, app, http.MethodPost, "/api/points", bearer, body)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d", i, resp.StatusCode)
		}
		var p Point
		decode(t, resp, &p)
		if p.CreatedBy != "skater@example.com" || p.Type != TypeStreet {
			t.Fatalf("unexpected point: %+v", p)
		}
	}

	resp := doJSON(t, app, http.MethodPost, "/api/points", bearer, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	var out struct {
		Error         string `json:"error"`
		RemainingTime int64  `json:"remainingTime"`
	}
	decode(t, resp, &out)
	if out.RemainingTime <= 0 || out.RemainingTime > (45*time.Minute).Milliseconds() {
		t.Fatalf("unexpected remaining time: %d", out.RemainingTime)
	}

	// Invalid input must not consume quota.
	other := token(t, authSvc, "u2", "other@example.com")
	resp = doJSON(t, app, http.MethodPost, "/api/points", other, map[string]any{"name": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPointRoutes(t *testing.T) {
	app, svc, authSvc := newTestApp(t, 5)
	owner := token(t, authSvc, "u1", "owner@example.com")
	stranger := token(t, authSvc, "u2", "stranger@example.com")
	admin := token(t, authSvc, "u3", adminEmail)

	p := mustCreate(t, svc, "plaza", "owner@example.com")

	resp := doJSON(t, app, http.MethodGet, "/api/points/"+p.ID, owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get point: %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodGet, "/api/points/missing", owner, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodGet, "/api/points", owner, nil)
	var views []PointView
	decode(t, resp, &views)
	if len(views) != 1 || views[0].Comments == nil {
		t.Fatalf("unexpected list: %+v", views)
	}

	resp = doJSON(t, app, http.MethodGet, "/api/points.geojson", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/geo+json" {
		t.Fatalf("geojson: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp = doJSON(t, app, http.MethodDelete, "/api/points/"+p.ID, stranger, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodDelete, "/api/points/"+p.ID, admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete: %d", resp.StatusCode)
	}
}

func TestCommentAndVoteRoutes(t *testing.T) {
	app, svc, authSvc := newTestApp(t, 5)
	author := token(t, authSvc, "u1", "author@example.com")
	other := token(t, authSvc, "u2", "other@example.com")
	p := mustCreate(t, svc, "bank", "owner@example.com")
	base := "/api/points/" + p.ID

	resp := doJSON(t, app, http.MethodPost, base+"/comments", author, map[string]string{"content": "fun"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add comment: %d", resp.StatusCode)
	}
	var c Comment
	decode(t, resp, &c)

	resp = doJSON(t, app, http.MethodPatch, base+"/comments", other, map[string]string{"commentId": c.ID, "content": "mine now"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 editing someone else's comment, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodDelete, base+"/comments?commentId="+c.ID, author, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete comment: %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodPost, base+"/likes", author, map[string]any{"status": "like"})
	var sum VoteSummary
	decode(t, resp, &sum)
	if sum.Likes != 1 || sum.UserStatus == nil {
		t.Fatalf("unexpected vote summary: %+v", sum)
	}
	resp = doJSON(t, app, http.MethodPost, base+"/likes", author, map[string]any{"status": nil})
	decode(t, resp, &sum)
	if sum.Likes != 0 || sum.UserStatus != nil {
		t.Fatalf("expected cleared vote, got %+v", sum)
	}
	resp = doJSON(t, app, http.MethodPost, base+"/likes", author, map[string]any{"status": "meh"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", resp.StatusCode)
	}
}

func TestAdminPointRoutes(t *testing.T) {
	app, svc, authSvc := newTestApp(t, 5)
	user := token(t, authSvc, "u1", "user@example.com")
	admin := token(t, authSvc, "u3", adminEmail)
	mustCreate(t, svc, "a", "user@example.com")
	mustCreate(t, svc, "b", "user@example.com")

	resp := doJSON(t, app, http.MethodDelete, "/api/admin/points", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodDelete, "/api/admin/points", user, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodDelete, "/api/admin/points", admin, nil)
	var out struct {
		Deleted int `json:"deleted"`
	}
	decode(t, resp, &out)
	if out.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", out.Deleted)
	}

	resp = doJSON(t, app, http.MethodPost, "/api/admin/import", admin, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without import url, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodPost, "/api/admin/migrate", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("migrate: %d", resp.StatusCode)
	}
}

func TestAdminImportErrorStatus(t *testing.T) {
	svc, rdb, _ := newTestService(t)
	authSvc := auth.NewService("test-secret", adminEmail)
	app := fiber.New()
	RegisterRoutes(app.Group("/api"), svc, Deps{Auth: authSvc, ImportTimeout: 5 * time.Second})
	admin := token(t, authSvc, "u3", adminEmail)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	resp := doJSON(t, app, http.MethodPost, "/api/admin/import", admin, map[string]string{"url": broken.URL})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 for a failing feed, got %d", resp.StatusCode)
	}

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p1","name":"Ledge","coordinates":[10,10]}]`))
	}))
	defer feed.Close()
	rdb.Set(context.Background(), kv.PointIDsKey, "not a set", 0)
	resp = doJSON(t, app, http.MethodPost, "/api/admin/import", admin, map[string]string{"url": feed.URL})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a local store failure, got %d", resp.StatusCode)
	}
}
