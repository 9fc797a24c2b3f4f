// Package auth authenticates operators and the automation tool.
package auth

import (
	"context"
	"errors"
	"slices"
)

// Roles granted to credentials.
const (
	RoleOperator = "operator"
	RoleTool     = "tool"
)

// ErrNoCredentials is returned when the context carries no token.
var ErrNoCredentials = errors.New("no credentials")

// ErrInvalidCredentials is returned when a token is not recognized.
var ErrInvalidCredentials = errors.New("invalid credentials")

// contextKey is a private type for context keys.
type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// Authenticator validates the token carried by a context.
type Authenticator interface {
	Authenticate(ctx context.Context) (*UserInfo, error)
}

// UserInfo describes an authenticated caller.
type UserInfo struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	AuthType string   `json:"auth_type"` // "apikey", "jwt"
}

// HasRole checks if the user has a specific role.
func (u *UserInfo) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole checks if the user has any of the specified roles.
func (u *UserInfo) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// WithUser adds the authenticated user to the context.
func WithUser(ctx context.Context, u *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *UserInfo {
	if u, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return u
	}
	return nil
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken returns the raw credential carried by the context.
func GetToken(ctx context.Context) string {
	if t, ok := ctx.Value(tokenContextKey).(string); ok {
		return t
	}
	return ""
}
