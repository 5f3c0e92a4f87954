// Package identity resolves the opaque caller identity every core operation
// receives: a user, their company, and an already-resolved capability set.
// The service never computes permissions; it only reads the flags carried by
// the bearer token.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Capability is one opaque permission flag attached to an identity.
type Capability string

const (
	CanView               Capability = "canView"
	CanEdit               Capability = "canEdit"
	CanManageAgenda       Capability = "canManageAgenda"
	CanManageParticipants Capability = "canManageParticipants"
	CanCreateMeetings     Capability = "canCreateMeetings"
	CanManageUsers        Capability = "canManageUsers"
	CanVote               Capability = "canVote"
	CanSeeVoteResults     Capability = "canSeeVoteResults"
)

// Identity is the resolved caller.
type Identity struct {
	UserID       string
	CompanyID    string
	Capabilities map[Capability]bool
}

// Can reports whether the identity carries the capability.
func (id *Identity) Can(c Capability) bool {
	return id != nil && id.Capabilities[c]
}

type contextKey struct{}

// FromContext returns the identity attached to the request context, or nil.
func FromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(contextKey{}).(*Identity)
	return ident
}

// claims is the expected JWT payload.
type claims struct {
	Company      string   `json:"company"`
	Capabilities []string `json:"caps"`
	jwt.RegisteredClaims
}

// Parse validates an HS256 token and builds the identity it carries.
func Parse(tokenString, secret string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return nil, fmt.Errorf("parse token: invalid claims")
	}

	caps := make(map[Capability]bool, len(c.Capabilities))
	for _, name := range c.Capabilities {
		caps[Capability(name)] = true
	}
	return &Identity{
		UserID:       c.Subject,
		CompanyID:    c.Company,
		Capabilities: caps,
	}, nil
}

// Middleware extracts the bearer token from the Authorization header (or the
// "token" query parameter, which the websocket client uses), resolves the
// identity and injects it into the request context. Requests without a valid
// identity are rejected.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				if !strings.HasPrefix(authHeader, "Bearer ") {
					unauthorized(w, "invalid authorization header format")
					return
				}
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			} else {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				unauthorized(w, "missing credentials")
				return
			}

			ident, err := Parse(tokenString, secret)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": "unauthorized", "message": msg},
	})
}
