// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = &playerapi.APIError{Sentinel: playerapi.ErrUpstreamUnavailable, Operation: "test"}

func TestRetryPolicy_DelayIsLinearAndCapped(t *testing.T) {
	p := RetryPolicy{Attempts: 10, BaseDelay: 2 * time.Second, Ceiling: 7 * time.Second}
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
	assert.Equal(t, 7*time.Second, p.Delay(4))
	assert.Equal(t, 7*time.Second, p.Delay(9))
	assert.Equal(t, 2*time.Second, p.Delay(0))
}

func TestRetryPolicy_DoRetriesThenSucceeds(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := RetryPolicy{Attempts: 5, BaseDelay: time.Second, Ceiling: 10 * time.Second, Clock: clk}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		})
	}()

	clk.BlockUntil(1)
	clk.Advance(time.Second) // after failure 1
	clk.BlockUntil(1)
	clk.Advance(2 * time.Second) // after failure 2

	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_DoGivesUp(t *testing.T) {
	p := RetryPolicy{Attempts: 1, BaseDelay: time.Hour}
	err := p.Do(context.Background(), func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, playerapi.ErrUpstreamUnavailable)
}

func TestRetryPolicy_NonRetryableReturnsAtOnce(t *testing.T) {
	p := RetryPolicy{Attempts: 5, BaseDelay: time.Hour}
	calls := 0
	notAssigned := &playerapi.APIError{Sentinel: playerapi.ErrNotAssigned, Status: 404}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return notAssigned
	})
	assert.ErrorIs(t, err, playerapi.ErrNotAssigned)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCancelDuringWait(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := RetryPolicy{Attempts: 5, BaseDelay: time.Minute, Clock: clk}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return errors.New("transient") })
	}()
	clk.BlockUntil(1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type sharedTally struct {
	count     int
	successes int
}

func (s *sharedTally) Failed(error) int { s.count++; return s.count }
func (s *sharedTally) Succeeded(time.Duration) {
	s.count = 0
	s.successes++
}

func TestRetryPolicy_RunHonoursSharedCount(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Hour}
	tally := &sharedTally{count: 2}

	calls := 0
	err := p.Run(context.Background(), tally, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls, "count carried over from earlier calls")
	assert.Equal(t, 3, tally.count)

	require.NoError(t, p.Run(context.Background(), tally, func(context.Context) error { return nil }))
	assert.Equal(t, 0, tally.count)
	assert.Equal(t, 1, tally.successes)
}
