package sheetrpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

const (
	retryBase     = 250 * time.Millisecond
	retryAttempts = 5
)

// IsTransient reports whether err looks like a retryable remote failure
// (HTTP 429, 500, 502, 503). Structured googleapi errors are inspected
// first; otherwise the error text is matched by substring, so wrappers from
// other client layers still classify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 429, 500, 502, 503:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, code := range []string{"429", "500", "502", "503"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to retryAttempts times, doubling the delay from
// retryBase between attempts. Non-transient errors abort immediately.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	delay := retryBase
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= retryAttempts {
			return err
		}
		if logger != nil {
			logger.Warn("sheetrpc: transient failure, retrying",
				"op", op, "attempt", attempt, "delay", delay, "error", err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}
