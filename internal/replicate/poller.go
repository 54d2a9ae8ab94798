package replicate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 20

	// DefaultPollTimeout bounds a whole poll operation; callers wrap the
	// context with it.
	DefaultPollTimeout = 120 * time.Second

	defaultBaseInterval = 2 * time.Second
	defaultMaxInterval  = 10 * time.Second
)

var (
	// ErrPollExhausted means the attempt cap was reached while the
	// prediction was still pending. Distinct from an upstream "failed"
	// status.
	ErrPollExhausted = errors.New("polling attempts exhausted before prediction completed")

	// ErrUnexpectedStatus means upstream reported a status outside the
	// known set. Treated as a hard error, not retried.
	ErrUnexpectedStatus = errors.New("unexpected prediction status")
)

// Poller re-queries a prediction's status URL until it reaches a terminal
// state, the attempt cap is hit, or the context is done. The wait between
// attempts ramps linearly up to a ceiling.
type Poller struct {
	client *Client

	MaxAttempts  int
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

func NewPoller(client *Client) *Poller {
	return &Poller{
		client:       client,
		MaxAttempts:  DefaultMaxAttempts,
		BaseInterval: defaultBaseInterval,
		MaxInterval:  defaultMaxInterval,
	}
}

// WaitForCompletion polls until pred reaches a terminal status. It always
// returns the most recent prediction alongside any error so callers can
// report the last observed state.
func (p *Poller) WaitForCompletion(ctx context.Context, pred *Prediction, token string) (*Prediction, error) {
	current := pred

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if current.Status.Terminal() {
			return current, nil
		}
		if !current.Status.Pending() {
			return current, fmt.Errorf("%w: %q", ErrUnexpectedStatus, current.Status)
		}
		if current.StatusURL() == "" {
			return current, errors.New("pending prediction has no status URL to poll")
		}

		if err := sleepContext(ctx, p.interval(attempt)); err != nil {
			return current, fmt.Errorf("polling aborted: %w", err)
		}

		next, err := p.client.GetPrediction(ctx, current.StatusURL(), token)
		if err != nil {
			if ctx.Err() != nil {
				return current, fmt.Errorf("polling aborted: %w", ctx.Err())
			}
			return current, fmt.Errorf("polling request failed: %w", err)
		}
		current = next
	}

	if current.Status.Terminal() {
		return current, nil
	}
	return current, fmt.Errorf("%w: still %q after %d attempts", ErrPollExhausted, current.Status, p.MaxAttempts)
}

// interval is a capped linear ramp: base, 2*base, ... up to the ceiling.
func (p *Poller) interval(attempt int) time.Duration {
	d := p.BaseInterval * time.Duration(attempt+1)
	if d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
