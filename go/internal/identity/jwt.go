package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// DefaultTokenExpiry matches the lifetime of tokens issued by the auth service.
const DefaultTokenExpiry = 2 * time.Hour

// claims accepts both the registered "sub" and the auth service's "id" for the
// account identifier.
type claims struct {
	UserID   string `json:"id,omitempty"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// JWTProvider issues and verifies HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
	expiry time.Duration
	users  UserStore
	clock  clockwork.Clock
}

// NewJWTProvider creates a provider. When users is non-nil the verified flag is
// looked up there instead of trusting the token claim; without it a token that
// lacks "verified": true is rejected with ErrUnverified.
func NewJWTProvider(secret string, expiry time.Duration, users UserStore, clock clockwork.Clock) *JWTProvider {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &JWTProvider{
		secret: []byte(secret),
		expiry: expiry,
		users:  users,
		clock:  clock,
	}
}

// Issue signs a token for id.
func (p *JWTProvider) Issue(id Identity) (string, error) {
	now := p.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   id.Subject,
		Email:    id.Email,
		Role:     id.Role,
		Verified: id.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (p *JWTProvider) Verify(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	subject := c.Subject
	if subject == "" {
		subject = c.UserID
	}

	id := Identity{
		Subject:  subject,
		Email:    c.Email,
		Role:     c.Role,
		Verified: c.Verified,
	}

	if p.users != nil {
		verified, err := p.users.IsVerified(ctx, c.Email)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				return Identity{}, err
			}
			return Identity{}, fmt.Errorf("failed to look up user %s: %w", c.Email, err)
		}
		id.Verified = verified
	}

	if !id.Verified {
		return id, ErrUnverified
	}
	return id, nil
}
