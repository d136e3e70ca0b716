// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/thejerf/suture/v4"
)

// Func adapts a run loop to suture.Service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

var _ suture.Service = (*Func)(nil)

// Serve runs the loop. A panic is converted into an error so suture
// restarts the service with backoff. Returning because ctx ended is not a
// failure.
func (f *Func) Serve(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger := xglog.WithComponent("supervisor")
			logger.Error().
				Str(xglog.FieldEvent, "supervisor.service_panic").
				Str("service", f.Name).
				Interface("panic_value", rec).
				Msg("service panicked, restarting")
			err = fmt.Errorf("%s: panic: %v", f.Name, rec)
		}
	}()

	err = f.Run(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	if err == nil {
		// A loop that returns on its own has nothing left to do.
		return suture.ErrDoNotRestart
	}
	return err
}

func (f *Func) String() string { return f.Name }
