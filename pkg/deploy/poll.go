package deploy

import (
	"context"
	"time"
)

// PollConfig bounds a status poll loop.
type PollConfig struct {
	// Interval is the delay between status fetches.
	Interval time.Duration

	// Deadline is the total time allowed before the poll gives up with a
	// timeout error. The already-issued remote request is not aborted.
	Deadline time.Duration
}

// PollUntil repeatedly calls fetch until it reports a terminal state or the
// deadline elapses. fetch returns the observed status string, whether that
// status is terminal, and any fetch error. Transient fetch errors do not
// abort the loop; they consume the deadline like any other interval.
//
// On deadline expiry PollUntil returns a timeout-class error carrying the
// last observed status, which callers must keep distinct from a remote
// FAILED outcome.
func PollUntil(ctx context.Context, cfg PollConfig, what string, fetch func(ctx context.Context) (status string, terminal bool, err error)) (string, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(cfg.Deadline)
	lastStatus := "UNKNOWN"

	for {
		status, terminal, err := fetch(ctx)
		if err != nil {
			if !IsRetryable(err) {
				return lastStatus, err
			}
		} else {
			lastStatus = status
			if terminal {
				return status, nil
			}
		}

		if cfg.Deadline > 0 && time.Now().After(deadline) {
			return lastStatus, NewTimeoutError(
				"deadline exceeded waiting for "+what, lastStatus, nil)
		}

		select {
		case <-ctx.Done():
			return lastStatus, NewPermanentError("poll cancelled", ctx.Err()).WithCode(CodeCancelled)
		case <-time.After(interval):
		}
	}
}
