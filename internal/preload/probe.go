// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package preload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/goccy/go-json"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

const (
	maxImageBytes   = 64 << 20
	rangeProbeBytes = 64 << 10
)

// Metadata is what a probe learned about a media URL.
type Metadata struct {
	Width    int
	Height   int
	Duration time.Duration
	// Bytes actually transferred, used for the downlink estimate.
	Bytes int64
}

// MediaProbe primes one media URL and reports its metadata.
type MediaProbe interface {
	Probe(ctx context.Context, url string) (Metadata, error)
}

// ImageProbe downloads the image and decodes its header.
type ImageProbe struct {
	Client *http.Client
}

func (p *ImageProbe) Probe(ctx context.Context, url string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("image request: %w", err)
	}
	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("image fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("image fetch: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("image read: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return Metadata{Bytes: int64(len(body))}, fmt.Errorf("image decode: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Metadata{Bytes: int64(len(body))}, fmt.Errorf("image decode: empty %s", format)
	}
	return Metadata{Width: cfg.Width, Height: cfg.Height, Bytes: int64(len(body))}, nil
}

// VideoProbe reads container metadata with ffprobe. When the binary is not
// installed it falls back to a ranged GET that only confirms the URL serves
// video.
type VideoProbe struct {
	Bin    string
	Client *http.Client

	once      sync.Once
	available bool
}

func (p *VideoProbe) Probe(ctx context.Context, url string) (Metadata, error) {
	p.once.Do(func() {
		bin := p.Bin
		if bin == "" {
			bin = "ffprobe"
		}
		path, err := exec.LookPath(bin)
		if err == nil {
			p.Bin = path
			p.available = true
			return
		}
		logger := xglog.WithComponent("preload")
		logger.Warn().
			Str("event", "preload.ffprobe_missing").
			Str("bin", bin).
			Msg("ffprobe not found, using HTTP range probe for videos")
	})
	if p.available {
		return p.ffprobe(ctx, url)
	}
	return p.rangeProbe(ctx, url)
}

func (p *VideoProbe) ffprobe(ctx context.Context, url string) (Metadata, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		url,
	}
	// #nosec G204 -- binary comes from config; args are fixed and the URL passed the media policy
	cmd := exec.CommandContext(ctx, p.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	meta, parseErr := parseFFprobe(out)
	if parseErr == nil {
		return meta, nil
	}
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return Metadata{}, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	return Metadata{}, parseErr
}

type probeData struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		Size       string `json:"size"`
	} `json:"format"`
}

var errNoVideoStream = errors.New("ffprobe: no video stream")

// parseFFprobe extracts dimensions and duration. The format duration wins
// over the stream duration when both are present.
func parseFFprobe(out []byte) (Metadata, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe json decode: %w", err)
	}
	var meta Metadata
	found := false
	for _, s := range data.Streams {
		if s.CodecType != "video" || s.CodecName == "" {
			continue
		}
		found = true
		meta.Width, meta.Height = s.Width, s.Height
		meta.Duration = parseSeconds(s.Duration)
		break
	}
	if !found {
		return Metadata{}, errNoVideoStream
	}
	if d := parseSeconds(data.Format.Duration); d > 0 {
		meta.Duration = d
	}
	if n, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		meta.Bytes = n
	}
	return meta, nil
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func (p *VideoProbe) rangeProbe(ctx context.Context, url string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("video request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-"+strconv.Itoa(rangeProbeBytes-1))
	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("video fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Metadata{}, fmt.Errorf("video fetch: HTTP %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "video/") && !strings.HasPrefix(ct, "application/octet-stream") &&
		!strings.HasPrefix(ct, "application/vnd.apple.mpegurl") && !strings.HasPrefix(ct, "application/x-mpegurl") {
		return Metadata{}, fmt.Errorf("video fetch: unexpected content type %q", ct)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, rangeProbeBytes))
	if err != nil {
		return Metadata{Bytes: n}, fmt.Errorf("video read: %w", err)
	}
	return Metadata{Bytes: n}, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
