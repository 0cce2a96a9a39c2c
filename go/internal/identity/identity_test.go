package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/auction?id=101&token=query-token", nil)
	check.Equal(t, "query-token", BearerToken(r))

	r.Header.Set("Authorization", "Bearer header-token")
	check.Equal(t, "header-token", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	check.Equal(t, "", BearerToken(r))
}

func TestJWTIssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewJWTProvider("secret", time.Hour, nil, clock)

	token, err := p.Issue(Identity{Subject: "u1", Email: "a@example.com", Verified: true})
	assert.NoError(t, err)

	id, err := p.Verify(context.Background(), token)
	assert.NoError(t, err)
	check.Equal(t, "u1", id.Subject)
	check.Equal(t, "a@example.com", id.Email)
}

func TestJWTVerifyFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewJWTProvider("secret", time.Hour, nil, clock)
	ctx := context.Background()

	_, err := p.Verify(ctx, "")
	check.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = p.Verify(ctx, "not-a-jwt")
	check.True(t, errors.Is(err, ErrUnauthenticated))

	other := NewJWTProvider("other-secret", time.Hour, nil, clock)
	forged, err := other.Issue(Identity{Email: "a@example.com", Verified: true})
	assert.NoError(t, err)
	_, err = p.Verify(ctx, forged)
	check.True(t, errors.Is(err, ErrUnauthenticated))

	token, err := p.Issue(Identity{Email: "a@example.com", Verified: true})
	assert.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = p.Verify(ctx, token)
	check.True(t, errors.Is(err, ErrUnauthenticated))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"email": "a@example.com", "verified": true})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.NoError(t, err)
	_, err = p.Verify(ctx, unsigned)
	check.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestJWTUnverified(t *testing.T) {
	p := NewJWTProvider("secret", time.Hour, nil, clockwork.NewFakeClock())
	token, err := p.Issue(Identity{Email: "a@example.com"})
	assert.NoError(t, err)

	id, err := p.Verify(context.Background(), token)
	check.True(t, errors.Is(err, ErrUnverified))
	check.Equal(t, "a@example.com", id.Email)
}

func TestJWTAuthServiceClaims(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewJWTProvider("secret", time.Hour, fakeUsers{"a@example.com": true}, clock)

	// Tokens minted by the auth service carry id/email/role and no sub.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    "42",
		"email": "a@example.com",
		"role":  "bidder",
		"exp":   clock.Now().Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString([]byte("secret"))
	assert.NoError(t, err)

	id, err := p.Verify(context.Background(), token)
	assert.NoError(t, err)
	check.Equal(t, "42", id.Subject)
	check.Equal(t, "bidder", id.Role)
	check.True(t, id.Verified)

	// Without a user store the missing verified claim means unverified.
	bare := NewJWTProvider("secret", time.Hour, nil, clock)
	id, err = bare.Verify(context.Background(), token)
	check.True(t, errors.Is(err, ErrUnverified))
	check.Equal(t, "42", id.Subject)
}

type fakeUsers map[string]bool

func (f fakeUsers) IsVerified(_ context.Context, email string) (bool, error) {
	v, ok := f[email]
	if !ok {
		return false, ErrUnauthenticated
	}
	return v, nil
}

func TestJWTConsultsUserStore(t *testing.T) {
	users := fakeUsers{"ok@example.com": true, "new@example.com": false}
	p := NewJWTProvider("secret", time.Hour, users, clockwork.NewFakeClock())
	ctx := context.Background()

	// The claim says unverified but the store has since verified the account.
	token, err := p.Issue(Identity{Email: "ok@example.com"})
	assert.NoError(t, err)
	_, err = p.Verify(ctx, token)
	check.NoError(t, err)

	token, err = p.Issue(Identity{Email: "new@example.com", Verified: true})
	assert.NoError(t, err)
	_, err = p.Verify(ctx, token)
	check.True(t, errors.Is(err, ErrUnverified))

	token, err = p.Issue(Identity{Email: "gone@example.com", Verified: true})
	assert.NoError(t, err)
	_, err = p.Verify(ctx, token)
	check.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestRemoteVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/api/auth/verify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "user": map[string]any{"id": "u1", "email": "a@example.com", "verified": true}})
		case "Bearer pending":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "user": map[string]any{"id": "u2", "email": "b@example.com", "verified": false}})
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Invalid token"}`))
		}
	}))
	defer srv.Close()

	v := NewRemoteVerifier(srv.URL, time.Second)
	ctx := context.Background()

	id, err := v.Verify(ctx, "good")
	assert.NoError(t, err)
	check.Equal(t, "u1", id.Subject)

	_, err = v.Verify(ctx, "pending")
	check.True(t, errors.Is(err, ErrUnverified))

	_, err = v.Verify(ctx, "bad")
	check.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = v.Verify(ctx, "broken")
	check.Error(t, err)
	check.False(t, errors.Is(err, ErrUnauthenticated))
}

type fakeRow struct {
	verified bool
	err      error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.verified
	return nil
}

type fakeQuerier struct {
	rows map[string]fakeRow
}

func (q fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	row, ok := q.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func TestPostgresUserStore(t *testing.T) {
	s := NewPostgresUserStore(fakeQuerier{rows: map[string]fakeRow{
		"a@example.com": {verified: true},
		"b@example.com": {verified: false},
		"c@example.com": {err: errors.New("connection reset")},
	}})
	ctx := context.Background()

	verified, err := s.IsVerified(ctx, "a@example.com")
	assert.NoError(t, err)
	check.True(t, verified)

	verified, err = s.IsVerified(ctx, "b@example.com")
	assert.NoError(t, err)
	check.False(t, verified)

	_, err = s.IsVerified(ctx, "missing@example.com")
	check.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = s.IsVerified(ctx, "c@example.com")
	check.Error(t, err)
	check.False(t, errors.Is(err, ErrUnauthenticated))
}
