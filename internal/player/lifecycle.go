// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"fmt"

	"github.com/ManuGH/signplay/internal/device"
	xglog "github.com/ManuGH/signplay/internal/log"
)

// Service is a long-running loop for the supervisor.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Services returns the player's loops. Sync and heartbeat are bound to the
// device identity: they stop while it changes and restart under the new one.
func (p *Player) Services() []Service {
	return []Service{
		{Name: "sync", Run: func(ctx context.Context) error { return p.serve(ctx, "sync", p.syncer.Run) }},
		{Name: "heartbeat", Run: func(ctx context.Context) error { return p.serve(ctx, "heartbeat", p.reporter.Run) }},
		{Name: "quality", Run: p.link.Run},
		{Name: "housekeeping", Run: p.housekeeping},
	}
}

func (p *Player) session() context.Context {
	p.sessMu.Lock()
	defer p.sessMu.Unlock()
	return p.sessCtx
}

func (p *Player) cancelSession() {
	p.sessMu.Lock()
	defer p.sessMu.Unlock()
	p.sessCancel()
}

func (p *Player) newSession() {
	p.sessMu.Lock()
	defer p.sessMu.Unlock()
	p.sessCtx, p.sessCancel = context.WithCancel(context.Background())
}

// serve runs a device-bound loop under the current session, restarting it
// after every identity change until ctx ends.
func (p *Player) serve(ctx context.Context, name string, run func(context.Context) error) error {
	for {
		p.gate.RLock()
		sess := p.session()
		runCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(sess, cancel)
		err := run(runCtx)
		stop()
		cancel()
		p.gate.RUnlock()

		if ctx.Err() != nil {
			return nil
		}
		if sess.Err() == nil {
			return err
		}
		p.logger.Debug().
			Str(xglog.FieldEvent, "player.service_rebind").
			Str("service", name).
			Msg("restarting service for new device identity")
	}
}

// ChangeDevice replaces the device identity. An empty code generates a new
// one. Every device-bound activity (sync, heartbeat, preloads, playback
// timers) is halted and the local content cleared before the new identity
// takes effect.
func (p *Player) ChangeDevice(ctx context.Context, code string) (string, error) {
	if code != "" && !device.Valid(code) {
		return "", fmt.Errorf("%w: %q", device.ErrInvalidCode, code)
	}
	p.changeMu.Lock()
	defer p.changeMu.Unlock()

	old := p.device.Current()
	p.cancelSession()
	p.engine.Stop()
	p.cancelPreload()

	p.gate.Lock()
	defer p.gate.Unlock()
	defer p.newSession()

	p.preloads.Wait()

	p.mu.Lock()
	if p.pairTimer != nil {
		p.pairTimer.Stop()
		p.pairTimer = nil
	}
	p.pairing = false
	p.waiting = false
	p.source = ""
	p.lastSyncErr = nil
	p.mu.Unlock()

	p.syncer.ArmRefresh(0)
	p.engine.Start(nil)
	if err := p.store.ClearContent(ctx); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.clear_failed").Msg("local content not cleared")
	}
	p.preloader.Index().Clear()

	var err error
	if code == "" {
		code, err = p.device.Reset(ctx)
	} else {
		err = p.device.Set(ctx, code)
	}
	if err != nil {
		return "", fmt.Errorf("change device: %w", err)
	}

	p.logger.Info().
		Str(xglog.FieldEvent, "player.device_changed").
		Str("old_code", old).
		Str(xglog.FieldDeviceCode, code).
		Msg("device identity replaced")
	return code, nil
}

func (p *Player) housekeeping(ctx context.Context) error {
	t := p.clk.NewTicker(housekeepingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			p.pruneLog(ctx)
		}
	}
}
