package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent mutation of the same entity.
	ErrConflict = errors.New("concurrent modification detected")
	// ErrLockNotObtained indicates another request holds the entity lock.
	ErrLockNotObtained = errors.New("entity lock not obtained")
)

// IsSerializationFailure reports whether err is a Postgres serialization
// failure or deadlock, which callers may retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// WithRetry runs fn up to attempts times, retrying only on conflict-class
// errors. The last error is returned unchanged unless it is a serialization
// failure, in which case it is joined with ErrConflict for the HTTP layer.
func WithRetry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) && !IsSerializationFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	if IsSerializationFailure(err) {
		return errors.Join(ErrConflict, err)
	}
	return err
}
