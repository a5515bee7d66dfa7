package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParseToken(t *testing.T) {
	svc := NewService("secret", "")
	token, err := svc.SignToken("user-1", "a@b.c", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "a@b.c" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseTokenRejectsOtherSecretAndExpiry(t *testing.T) {
	other := NewService("other", "")
	token, _ := other.SignToken("user-1", "a@b.c", time.Minute)
	if _, err := NewService("secret", "").ParseToken(token); err == nil {
		t.Fatalf("expected signature error")
	}

	svc := NewService("secret", "")
	expired, _ := svc.SignToken("user-1", "a@b.c", -time.Minute)
	if _, err := svc.ParseToken(expired); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestSignTokenRequiresUser(t *testing.T) {
	if _, err := NewService("secret", "").SignToken("", "a@b.c", time.Minute); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseTokenClaimsError(t *testing.T) {
	old := parseClaimsFn
	defer func() { parseClaimsFn = old }()
	parseClaimsFn = func(string, jwt.Claims, jwt.Keyfunc, ...jwt.ParserOption) (*jwt.Token, error) {
		return nil, errors.New("boom")
	}
	if _, err := NewService("secret", "").ParseToken("x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIsAdmin(t *testing.T) {
	svc := NewService("secret", " Admin@Example.com ")
	if !svc.IsAdmin(Identity{UserID: "u", Email: "admin@example.com"}) {
		t.Fatalf("expected admin match ignoring case")
	}
	if svc.IsAdmin(Identity{UserID: "u", Email: "other@example.com"}) {
		t.Fatalf("unexpected admin")
	}
	if NewService("secret", "").IsAdmin(Identity{UserID: "u", Email: ""}) {
		t.Fatalf("empty admin email must disable admin")
	}
}
