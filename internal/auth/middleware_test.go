package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestJWTMiddleware(t *testing.T) {
	svc := NewService("secret", "admin@example.com")
	app := fiber.New()
	app.Get("/private", JWTMiddleware(svc), func(c *fiber.Ctx) error {
		id, ok := FromCtx(c)
		if !ok || id.UserID != "user-1" || id.Email != "skater@example.com" {
			return fiber.NewError(fiber.StatusInternalServerError)
		}
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token")
	}

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized with malformed token")
	}

	token, _ := svc.SignToken("user-1", "skater@example.com", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok, got %d", resp.StatusCode)
	}
}

func TestAdminOnly(t *testing.T) {
	svc := NewService("secret", "admin@example.com")
	app := fiber.New()
	app.Get("/admin", JWTMiddleware(svc), AdminOnly(svc), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	app.Get("/bare", AdminOnly(svc), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	userToken, _ := svc.SignToken("user-1", "skater@example.com", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-admin, got %d", resp.StatusCode)
	}

	adminToken, _ := svc.SignToken("admin-1", "ADMIN@example.com", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok for admin, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/bare", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without identity")
	}
}

func TestOptionalJWT(t *testing.T) {
	svc := NewService("secret", "")
	app := fiber.New()
	app.Get("/maybe", OptionalJWT(svc), func(c *fiber.Ctx) error {
		if _, ok := FromCtx(c); ok {
			return c.SendString("known")
		}
		return c.SendString("anonymous")
	})

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/maybe", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected anonymous request to pass")
	}
}

func TestBearerFromHeader(t *testing.T) {
	if bearerFromHeader("Bearer abc") != "abc" {
		t.Fatalf("expected token")
	}
	if bearerFromHeader("Basic abc") != "" || bearerFromHeader("") != "" {
		t.Fatalf("expected empty token")
	}
}
