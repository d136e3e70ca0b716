// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience wraps outbound calls with linear retry, tracks link
// health and quality, and retunes the sync and heartbeat cadence.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/playerapi"
)

// ErrRetriesExhausted is returned once a call has failed Attempts times.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy waits BaseDelay × retryCount between attempts, capped at
// Ceiling, and gives up after Attempts failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Ceiling   time.Duration

	// Retryable classifies errors; defaults to playerapi.Retryable.
	Retryable func(error) bool
	Clock     clock.Clock
}

// Delay returns the wait before the next attempt after retryCount failures.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.BaseDelay * time.Duration(retryCount)
	if p.Ceiling > 0 && d > p.Ceiling {
		d = p.Ceiling
	}
	return d
}

// Tally counts failures for a retry loop. Do uses a private tally per
// call; the Controller supplies one that is shared by every outbound call.
type Tally interface {
	// Failed records a retryable failure and returns the retry count.
	Failed(err error) int
	// Succeeded records a success after elapsed.
	Succeeded(elapsed time.Duration)
}

type localTally struct{ n int }

func (t *localTally) Failed(error) int        { t.n++; return t.n }
func (t *localTally) Succeeded(time.Duration) { t.n = 0 }

// Do runs op until it succeeds, fails with a non-retryable error, the
// context ends or Attempts failures accumulate.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	return p.Run(ctx, &localTally{}, op)
}

// Run is Do with the failure count kept by tally. The wait after a failure
// is Delay(count), and the loop gives up once count reaches Attempts.
func (p RetryPolicy) Run(ctx context.Context, tally Tally, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	clk := p.clock()
	for {
		start := clk.Now()
		err := op(ctx)
		if err == nil {
			tally.Succeeded(clk.Now().Sub(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.retryable(err) {
			return err
		}
		count := tally.Failed(err)
		if count >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, count, err)
		}
		if err := p.sleep(ctx, p.Delay(count)); err != nil {
			return err
		}
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return playerapi.Retryable(err)
}

func (p RetryPolicy) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real{}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	t := p.clock().NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
