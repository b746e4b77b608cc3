package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/contextkeys"
)

// User is an administrator or customer account. ID is the identity
// provider's subject.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	FullName  string    `json:"fullName,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateUserRequest is the body of POST /api/users
type CreateUserRequest struct {
	ID       string `json:"id" validate:"required,max=255"`
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	FullName string `json:"fullName" validate:"max=255"`
	IsActive *bool  `json:"isActive"`
}

// UpdateUserRequest is the body of PUT /api/users/{id}
type UpdateUserRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	FullName string `json:"fullName" validate:"max=255"`
	IsActive bool   `json:"isActive"`
}

// AuthContext holds the verified identity of the caller
type AuthContext struct {
	Subject   string
	Username  string
	Email     string
	Roles     []string
	Issuer    string
	ExpiresAt time.Time
}

// HasRole reports whether the token carried roleID
func (ac *AuthContext) HasRole(roleID string) bool {
	for _, r := range ac.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// WithAuthContext stores ac in ctx along with the subject for logging
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, ac)
	return contextkeys.WithUserID(ctx, ac.Subject)
}

// FromContext returns the caller's AuthContext, if any
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac, ok && ac != nil
}
