package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Attempt describes one strategy invocation made by a Chain
type Attempt struct {
	Number   int
	Strategy string
	Duration time.Duration
	Err      error
}

// Chain tries an ordered list of strategies until one yields a stream,
// making at most MaxAttempts invocations in total.
type Chain struct {
	strategies  []Strategy
	maxAttempts int
	onAttempt   func(Attempt)
	logger      *logrus.Entry
}

// NewChain creates a strategy chain. A maxAttempts below 1 means one attempt
// per strategy.
func NewChain(maxAttempts int, strategies ...Strategy) *Chain {
	if maxAttempts < 1 {
		maxAttempts = len(strategies)
	}
	return &Chain{
		strategies:  strategies,
		maxAttempts: maxAttempts,
		logger:      logrus.WithField("component", "transport"),
	}
}

// OnAttempt registers a hook called after every attempt
func (c *Chain) OnAttempt(fn func(Attempt)) {
	c.onAttempt = fn
}

// OpenStream implements Transport
func (c *Chain) OpenStream(ctx context.Context, url string) (StreamHandle, error) {
	if len(c.strategies) == 0 {
		return nil, ErrNoStrategy
	}

	var errs []error
	attempts := min(c.maxAttempts, len(c.strategies))

	for i := 0; i < attempts; i++ {
		strategy := c.strategies[i]
		start := time.Now()
		handle, err := strategy.Open(ctx, url)

		attempt := Attempt{
			Number:   i + 1,
			Strategy: strategy.Name(),
			Duration: time.Since(start),
			Err:      err,
		}
		if c.onAttempt != nil {
			c.onAttempt(attempt)
		}

		logger := c.logger.WithFields(logrus.Fields{
			"strategy": attempt.Strategy,
			"attempt":  attempt.Number,
			"of":       attempts,
			"duration": attempt.Duration,
		})

		if err == nil {
			logger.Debug("Stream acquired")
			return handle, nil
		}

		// The caller's deadline covers the whole chain
		if ctxErr := ctx.Err(); ctxErr != nil {
			if handle != nil {
				_ = handle.Close()
			}
			logger.WithError(err).Warn("Stream acquisition aborted")
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTransportTimeout, attempt.Strategy)
			}
			return nil, ctxErr
		}

		logger.WithError(err).Warn("Stream strategy failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", attempt.Strategy, err))
	}

	return nil, fmt.Errorf("all %d stream attempts failed: %w", attempts, errors.Join(errs...))
}
