package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const isVerifiedQuery = `SELECT verified FROM users WHERE lower(email) = lower($1)`

// PostgresUserStore reads account verification from the auth service's users table.
type PostgresUserStore struct {
	db rowQuerier
}

func NewPostgresUserStore(db rowQuerier) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) IsVerified(ctx context.Context, email string) (bool, error) {
	var verified bool
	err := s.db.QueryRow(ctx, isVerifiedQuery, email).Scan(&verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: user not found", ErrUnauthenticated)
		}
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return verified, nil
}
