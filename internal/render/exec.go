// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/procgroup"
	"github.com/rs/zerolog"
)

// URLPlaceholder is replaced with the media URL in viewer commands. Commands
// without it get the URL appended as the last argument.
const URLPlaceholder = "{url}"

const (
	defaultGrace = 2 * time.Second
	stderrTail   = 2048
)

var ErrViewerExited = errors.New("viewer exited")

// ExecConfig configures the external viewer. Commands are split on
// whitespace; quoting is not supported.
type ExecConfig struct {
	ImageCmd string
	VideoCmd string
	// Grace is how long a viewer gets to exit after SIGTERM.
	Grace time.Duration
}

// Exec runs one viewer process per item. Only one viewer is alive at a
// time: showing an item, cancelling its context or calling Stop terminates
// the previous process group.
//
// For videos, a clean exit of the viewer reports the natural end of the
// media and a failed exit reports an error. Image viewers are expected to
// run until replaced; an image is confirmed loaded once its process starts.
type Exec struct {
	image  []string
	video  []string
	grace  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	current *viewer
}

type viewer struct {
	cmd      *exec.Cmd
	item     playlist.Item
	stderr   *tailWriter
	exited   chan error
	stopping atomic.Bool
	stopOnce sync.Once
}

func NewExec(cfg ExecConfig) (*Exec, error) {
	image := strings.Fields(cfg.ImageCmd)
	video := strings.Fields(cfg.VideoCmd)
	if len(image) == 0 || len(video) == 0 {
		return nil, errors.New("exec renderer needs both image and video commands")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	return &Exec{
		image:  image,
		video:  video,
		grace:  cfg.Grace,
		logger: xglog.WithComponent("render"),
	}, nil
}

func (r *Exec) Show(ctx context.Context, item playlist.Item, token playback.Token) error {
	r.mu.Lock()
	prev := r.current
	r.current = nil
	r.mu.Unlock()
	if prev != nil {
		r.terminate(prev)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmpl := r.image
	if item.Type == playlist.MediaVideo {
		tmpl = r.video
	}
	argv := viewerArgs(tmpl, item.URL)

	// Not CommandContext: cancellation must take the whole process group down.
	cmd := exec.Command(argv[0], argv[1:]...)
	procgroup.Set(cmd)
	v := &viewer{
		cmd:    cmd,
		item:   item,
		stderr: &tailWriter{max: stderrTail},
		exited: make(chan error, 1),
	}
	cmd.Stderr = v.stderr
	// Bound Wait if a forked helper keeps stderr open after the viewer exits.
	cmd.WaitDelay = r.grace
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start viewer %s: %w", argv[0], err)
	}

	r.mu.Lock()
	r.current = v
	r.mu.Unlock()

	logger := xglog.WithContext(ctx, r.logger)
	logger.Debug().
		Str(xglog.FieldEvent, "render.viewer_started").
		Str(xglog.FieldItemID, item.ID).
		Str(xglog.FieldMediaType, string(item.Type)).
		Int("pid", cmd.Process.Pid).
		Msg("viewer started")

	go r.monitor(v, token, logger)
	context.AfterFunc(ctx, func() { r.release(v) })

	if item.Type == playlist.MediaImage {
		token.Loaded()
	}
	return nil
}

// Stop terminates the current viewer, if any, and waits for it to exit.
func (r *Exec) Stop() {
	r.mu.Lock()
	v := r.current
	r.current = nil
	r.mu.Unlock()
	if v != nil {
		r.terminate(v)
	}
}

func (r *Exec) release(v *viewer) {
	r.mu.Lock()
	if r.current == v {
		r.current = nil
	}
	r.mu.Unlock()
	r.terminate(v)
}

func (r *Exec) terminate(v *viewer) {
	v.stopOnce.Do(func() {
		v.stopping.Store(true)
		err := procgroup.Terminate(v.cmd, v.exited, r.grace)
		r.logger.Debug().
			Str(xglog.FieldEvent, "render.viewer_stopped").
			Str(xglog.FieldItemID, v.item.ID).
			AnErr("exit", err).
			Msg("viewer stopped")
	})
}

func (r *Exec) monitor(v *viewer, token playback.Token, logger zerolog.Logger) {
	err := v.cmd.Wait()
	if !v.stopping.Load() {
		r.report(v, token, err, logger)
	}
	v.exited <- err
}

func (r *Exec) report(v *viewer, token playback.Token, err error, logger zerolog.Logger) {
	if err != nil {
		failure := fmt.Errorf("%w: %v", ErrViewerExited, err)
		if tail := v.stderr.String(); tail != "" {
			failure = fmt.Errorf("%w: %s", failure, tail)
		}
		logger.Warn().
			Str(xglog.FieldEvent, "render.viewer_failed").
			Str(xglog.FieldItemID, v.item.ID).
			Err(failure).
			Msg("viewer failed")
		token.Failed(failure)
		return
	}
	if v.item.Type == playlist.MediaVideo {
		token.Ended()
		return
	}
	logger.Debug().
		Str(xglog.FieldEvent, "render.viewer_exited").
		Str(xglog.FieldItemID, v.item.ID).
		Msg("image viewer exited early")
}

func viewerArgs(tmpl []string, url string) []string {
	args := make([]string, 0, len(tmpl)+1)
	substituted := false
	for _, a := range tmpl {
		if strings.Contains(a, URLPlaceholder) {
			a = strings.ReplaceAll(a, URLPlaceholder, url)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, url)
	}
	return args
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(bytes.TrimSpace(w.buf))
}
