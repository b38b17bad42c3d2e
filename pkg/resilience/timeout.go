package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. fn must honour its context; WithTimeout waits for it to
// return and reports apperrors.ErrTimeout if the deadline fired first.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit: %v): %v", name, apperrors.ErrTimeout, timeout, err)
	}
	return err
}
