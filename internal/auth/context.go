package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrForbidden    = errors.New("not permitted for this role")
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Session is the authenticated identity handed out by the identity provider.
type Session struct {
	UserID    uuid.UUID
	Email     string
	Phone     string
	ExpiresAt time.Time
}

// AuthContext is built once per session change and passed explicitly to
// everything that routes or authorizes on identity.
type AuthContext struct {
	Session Session
	Role    Role
}

func (a AuthContext) Authenticated() bool {
	return a.Session.UserID != uuid.Nil && a.Role.Valid()
}

func (a AuthContext) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the AuthContext attached by Middleware.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	if !ok || !ac.Authenticated() {
		return AuthContext{}, false
	}
	return ac, true
}
