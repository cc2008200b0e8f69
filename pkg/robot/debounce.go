package robot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/state"
)

// debounceEnabled polls store for K consecutive *distinct* robot-status
// frames all reporting enabled, using backoff.Ticker for poll cadence
// (grounded on nasa-jpl-golaborate's comm.go ExponentialBackOff dial retry,
// adapted here to a constant cadence since this is a counting debounce
// rather than a retry-until-success). A repeated read of the same
// feedback frame (unchanged FeedbackCounter) does not advance the
// count, matching scenario S4's "frames #1..#6" framing.
func debounceEnabled(ctx context.Context, store *state.Store, cfg EnableConfig) error {
	ticker := backoff.NewTicker(&backoff.ConstantBackOff{Interval: cfg.PollInterval})
	defer ticker.Stop()

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	var (
		haveLast   bool
		lastCount  uint8
		consecutive int
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return armcan.ErrTimeout
		case <-ticker.C:
			rc, ok := store.RobotControl()
			if !ok {
				continue
			}
			if haveLast && rc.FeedbackCounter == lastCount {
				continue // no new frame since last poll
			}
			haveLast = true
			lastCount = rc.FeedbackCounter

			if rc.IsEnabled {
				consecutive++
			} else {
				consecutive = 0
			}
			if consecutive >= cfg.DebounceCount {
				return nil
			}
		}
	}
}
