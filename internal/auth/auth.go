// Package auth verifies bearer tokens and carries the acting user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"labonnas-pos/internal/apperr"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleGerente Role = "gerente"
	RoleCaixa   Role = "caixa"
	RoleGarcom  Role = "garcom"
	RoleCozinha Role = "cozinha"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleGerente, RoleCaixa, RoleGarcom, RoleCozinha:
		return true
	}
	return false
}

// Session is the authenticated user. Services receive it explicitly.
type Session struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// CanOperateCaixa reports whether the user may open, post to or close a caixa.
func (s Session) CanOperateCaixa() bool {
	return s.Role == RoleCaixa || s.Role == RoleGerente || s.Role == RoleAdmin
}

func (s Session) IsManager() bool {
	return s.Role == RoleGerente || s.Role == RoleAdmin
}

// HasRole reports whether the user holds any of roles.
func (s Session) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

var ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "invalid_token", "invalid or expired token")

type claims struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (t *Tokens) Issue(s Session) (string, error) {
	if s.UserID == "" {
		return "", apperr.Validation("user_id", "user id is required")
	}
	if !s.Role.Valid() {
		return "", apperr.Validation("role", fmt.Sprintf("unknown role %q", s.Role))
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: s.Name,
		Role: s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Verify(raw string) (Session, error) {
	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, apperr.Wrap(apperr.KindUnauthorized, "token_expired", "token expired", err)
		}
		return Session{}, apperr.Wrap(apperr.KindUnauthorized, ErrInvalidToken.Code, ErrInvalidToken.Message, err)
	}
	if parsed.Subject == "" || !parsed.Role.Valid() {
		return Session{}, ErrInvalidToken
	}
	return Session{UserID: parsed.Subject, Name: parsed.Name, Role: parsed.Role}, nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
