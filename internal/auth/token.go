package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims mirrors the access tokens minted by the hosted identity provider.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	UserRole string `json:"user_role,omitempty"`
	jwt.RegisteredClaims
}

// RoleResolver looks up the role of a user when the token does not carry one.
type RoleResolver interface {
	RoleFor(ctx context.Context, userID uuid.UUID) (Role, error)
}

// Verifier turns bearer tokens into AuthContexts.
type Verifier struct {
	secret []byte
	roles  RoleResolver
}

func NewVerifier(secret string, roles RoleResolver) *Verifier {
	return &Verifier{secret: []byte(secret), roles: roles}
}

func (v *Verifier) Verify(ctx context.Context, tokenString string) (AuthContext, error) {
	if len(v.secret) == 0 {
		return AuthContext{}, fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return AuthContext{}, ErrAuthRequired
	}

	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return AuthContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	ac := AuthContext{
		Session: Session{
			UserID: userID,
			Email:  claims.Email,
			Phone:  claims.Phone,
		},
		Role: Role(claims.UserRole),
	}
	if claims.ExpiresAt != nil {
		ac.Session.ExpiresAt = claims.ExpiresAt.Time
	}

	if !ac.Role.Valid() {
		if v.roles == nil {
			return AuthContext{}, fmt.Errorf("%w: no role claim", ErrInvalidToken)
		}
		role, err := v.roles.RoleFor(ctx, userID)
		if err != nil {
			return AuthContext{}, fmt.Errorf("resolve role: %w", err)
		}
		ac.Role = role
	}
	if !ac.Role.Valid() {
		return AuthContext{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, ac.Role)
	}

	return ac, nil
}

// IssueToken mints an HS256 token in the identity provider's format.
func IssueToken(secret string, s Session, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    s.Email,
		Phone:    s.Phone,
		UserRole: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
