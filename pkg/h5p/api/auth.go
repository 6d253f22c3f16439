package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/jwtauth"
)

// RoleAdmin is the role claim value required on admin routes
const RoleAdmin = "admin"

// Claims are the caller attributes read from the JWT
type Claims struct {
	UserID int64
	Author string
	Roles  []string
}

// HasRole reports whether the caller carries role
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClaimsFromContext reads the claims verified by jwtauth.Verifier.
// It returns zero Claims when the request carried no token.
func ClaimsFromContext(ctx context.Context) Claims {
	_, raw, err := jwtauth.FromContext(ctx)
	if err != nil || raw == nil {
		return Claims{}
	}

	var c Claims
	c.UserID = int64Claim(raw["user_id"])
	if c.UserID == 0 {
		c.UserID = int64Claim(raw["sub"])
	}
	if name, ok := raw["name"].(string); ok {
		c.Author = name
	}
	switch roles := raw["role"].(type) {
	case string:
		c.Roles = []string{roles}
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	}
	return c
}

// numbers decode as float64, subjects as strings
func int64Claim(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return id
	}
	return 0
}

// Authenticate rejects requests whose token is missing or failed verification
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			sendError(w, r, "Unauthenticated.", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects authenticated callers without role
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ClaimsFromContext(r.Context()).HasRole(role) {
				sendError(w, r, "This action is unauthorized.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth verifies the bearer token (or "jwt" cookie) and requires the admin role
func AdminAuth(ta *jwtauth.JWTAuth) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		jwtauth.Verifier(ta),
		Authenticate,
		RequireRole(RoleAdmin),
	}
}
