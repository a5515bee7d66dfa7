package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the external identity provider vouches for.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type Service struct {
	secret     []byte
	adminEmail string
}

func NewService(secret, adminEmail string) *Service {
	return &Service{
		secret:     []byte(secret),
		adminEmail: strings.TrimSpace(adminEmail),
	}
}

// IsAdmin reports whether id belongs to the configured admin account. An
// empty ADMIN_EMAIL disables admin access entirely.
func (s *Service) IsAdmin(id Identity) bool {
	return s.adminEmail != "" && strings.EqualFold(strings.TrimSpace(id.Email), s.adminEmail)
}

// SignToken issues an HS256 token for userID/email, valid for ttl.
func (s *Service) SignToken(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (Identity, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Identity{}, errors.New("token invalid")
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

var parseClaimsFn = jwt.ParseWithClaims
