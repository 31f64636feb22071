package docstore

import (
	"context"
	"errors"
)

// DefaultAttempts bounds read-modify-write retries.
const DefaultAttempts = 3

// Retry runs fn until it succeeds, fails with anything other than
// ErrVersionMismatch, or attempts are exhausted. fn must re-read the
// documents it writes on every call.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrVersionMismatch) {
			return err
		}
	}
	return err
}
