// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	var fired []string

	clk.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clk.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	clk.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	clk.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)

	clk.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, clk.Pending())
}

func TestFake_CallbackCanScheduleWithinSameAdvance(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	var at []time.Duration
	start := clk.Now()

	clk.AfterFunc(time.Second, func() {
		at = append(at, clk.Now().Sub(start))
		clk.AfterFunc(time.Second, func() {
			at = append(at, clk.Now().Sub(start))
		})
	})

	clk.Advance(10 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
}

func TestFake_StopPreventsFire(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	fired := false
	tm := clk.AfterFunc(time.Second, func() { fired = true })

	require.True(t, tm.Stop())
	assert.False(t, tm.Stop(), "second stop reports inactive timer")

	clk.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFake_TickerRearms(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	tk := clk.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	clk.Advance(100 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected tick")
	}
	assert.Equal(t, 1, clk.Pending(), "ticker stays armed")
}
