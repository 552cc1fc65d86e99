package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"learning-analytics-service/internal/errs"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	maxAttempts = 3
	backoffStep = 200 * time.Millisecond
)

// withRetry runs op up to maxAttempts times with linear backoff. Only
// transient store faults are retried; not-found and context errors surface
// immediately.
func withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		if attempt < maxAttempts {
			log.Printf("%s: transient store error (attempt %d/%d): %v", name, attempt, maxAttempts, err)
			select {
			case <-time.After(time.Duration(attempt) * backoffStep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w: %v", name, errs.ErrStoreTransient, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrValidation) {
		return false
	}
	return true
}
