package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated is returned for missing, malformed, expired or unknown credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnverified is returned when the credential is valid but the account is not verified.
	ErrUnverified = errors.New("account not verified")
)

// Identity is the authenticated subject behind a bearer token.
type Identity struct {
	Subject  string `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Verified bool   `json:"verified"`
}

// Verifier validates bearer tokens. Implementations return ErrUnverified together
// with the decoded identity when the account exists but has not been verified.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// UserStore answers whether an account has been verified.
type UserStore interface {
	IsVerified(ctx context.Context, email string) (bool, error)
}

// BearerToken extracts a token from the Authorization header, falling back to the
// token query parameter for clients that cannot set headers on upgrade requests.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
