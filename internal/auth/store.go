package auth

import (
	"context"
	"time"
)

// Store is the persistence contract for principals and their session state.
// *PostgresStore is the production implementation; tests use an in-memory fake.
type Store interface {
	CreatePrincipal(ctx context.Context, p Principal) error
	GetByEmail(ctx context.Context, email string) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)

	// UpdateSession runs fn against the current session state of the principal
	// under a row lock, so concurrent calls for the same principal serialize.
	// When fn returns dirty=true the mutated state is written back and committed
	// as a single atomic update of the whole session tuple, even if fn also
	// returns an error (the reuse-detection path both revokes and rejects).
	// A missing principal yields ErrPrincipalNotFound.
	UpdateSession(ctx context.Context, principalID string, fn func(s *Session) (dirty bool, err error)) error

	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}
