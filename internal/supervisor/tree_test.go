// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
	"go.uber.org/goleak"
)

func TestNewTree_Defaults(t *testing.T) {
	tree := NewTree(xglog.NewSlogLogger("test"), TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.config)

	tree = NewTree(xglog.NewSlogLogger("test"), TreeConfig{FailureBackoff: time.Second})
	assert.Equal(t, time.Second, tree.config.FailureBackoff)
	assert.Equal(t, 5.0, tree.config.FailureThreshold)
}

func TestTree_RunsLayersAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	tree := NewTree(xglog.NewSlogLogger("test"), TreeConfig{ShutdownTimeout: time.Second})
	var playback, api atomic.Int32
	block := func(n *atomic.Int32) func(context.Context) error {
		return func(ctx context.Context) error {
			n.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}
	}
	tree.AddPlaybackService(&Func{Name: "sync", Run: block(&playback)})
	tree.AddAPIService(&Func{Name: "status", Run: block(&api)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return playback.Load() == 1 && api.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(xglog.NewSlogLogger("test"), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	var starts atomic.Int32
	tree.AddPlaybackService(&Func{Name: "flaky", Run: func(ctx context.Context) error {
		if starts.Add(1) <= 2 {
			return errors.New("backend unreachable")
		}
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return starts.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-errCh
}

func TestFunc_Serve(t *testing.T) {
	t.Run("panic becomes error", func(t *testing.T) {
		f := &Func{Name: "boom", Run: func(context.Context) error { panic("nil renderer") }}
		err := f.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil renderer")
	})

	t.Run("clean return is not restarted", func(t *testing.T) {
		f := &Func{Name: "once", Run: func(context.Context) error { return nil }}
		assert.ErrorIs(t, f.Serve(context.Background()), suture.ErrDoNotRestart)
	})

	t.Run("cancellation is reported as such", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := &Func{Name: "loop", Run: func(context.Context) error { return nil }}
		assert.ErrorIs(t, f.Serve(ctx), context.Canceled)
	})

	t.Run("failure passes through", func(t *testing.T) {
		want := errors.New("listen tcp: address in use")
		f := &Func{Name: "status", Run: func(context.Context) error { return want }}
		assert.ErrorIs(t, f.Serve(context.Background()), want)
	})

	assert.Equal(t, "sync", (&Func{Name: "sync"}).String())
}
