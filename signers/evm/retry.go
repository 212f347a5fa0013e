package evm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// retryConfig bounds the retry loop for idempotent read RPCs. Delays grow
// by Multiplier per attempt up to MaxDelay.
type retryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func defaultReadRetry() retryConfig {
	return retryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// withRetry runs fn up to cfg.MaxAttempts times, sleeping between attempts,
// as long as retryable reports the error as transient. Only read-only RPCs
// go through here; submission is never retried.
func withRetry[T any](ctx context.Context, cfg retryConfig, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var err error

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		result, err = fn()
		if err == nil || attempt >= cfg.MaxAttempts || !retryable(err) {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, err
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// isTransientRPCError reports whether a read RPC failure is worth retrying.
// Reverts are deterministic contract outcomes and must surface immediately;
// a cancelled context will not recover either.
func isTransientRPCError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "vm exception") {
		return false
	}
	return true
}
