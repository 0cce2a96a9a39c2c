package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteVerifier delegates token checks to the auth service's verify endpoint.
type RemoteVerifier struct {
	client *resty.Client
}

// NewRemoteVerifier creates a verifier against the auth service at baseURL.
func NewRemoteVerifier(baseURL string, timeout time.Duration) *RemoteVerifier {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &RemoteVerifier{client: client}
}

type verifyResponse struct {
	OK   bool     `json:"ok"`
	User Identity `json:"user"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	var body verifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&body).
		Get("/api/auth/verify")
	if err != nil {
		return Identity{}, fmt.Errorf("failed to call auth service: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return Identity{}, fmt.Errorf("%w: auth service returned %d", ErrUnauthenticated, resp.StatusCode())
	default:
		return Identity{}, fmt.Errorf("auth service returned %d", resp.StatusCode())
	}

	if !body.OK {
		return Identity{}, ErrUnauthenticated
	}
	if !body.User.Verified {
		return body.User, ErrUnverified
	}
	return body.User, nil
}
