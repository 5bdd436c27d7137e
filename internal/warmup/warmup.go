// Package warmup probes the remote API for basic connectivity at startup.
//
// The probe is bounded: capped retries with exponential backoff and a
// per-attempt timeout. Silent login waits for the probe to settle either
// way, but the bridge server never does.
package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Probe checks that the API base URL answers at all. Any HTTP response,
// including an error status, proves connectivity; only transport-level
// failures count as attempts to retry.
func Probe(ctx context.Context, client *http.Client, baseURL string, attempts int, perAttempt time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	logger := slog.With("component", "warmup")

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, baseURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("server not reachable yet", "attempt", attempt, "error", err)
			return err
		}
		resp.Body.Close()
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("server unreachable after %d attempts: %w", attempt, err)
	}
	logger.Info("server reachable", "attempts", attempt)
	return nil
}
