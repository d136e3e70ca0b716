// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/rs/zerolog"
)

// Quality is the link classification.
type Quality string

const (
	QualityUnknown  Quality = ""
	QualitySlow     Quality = "slow"
	QualityModerate Quality = "moderate"
	QualityGood     Quality = "good"
)

const (
	slowRTT           = time.Second
	goodRTT           = 300 * time.Millisecond
	slowDownlinkMbps  = 1.0
	goodDownlinkMbps  = 5.0
	sampleWindow      = 10
	degradationFactor = 1.5
	minSyncInterval   = 10 * time.Second
)

// NetworkState is the controller's view of the link. Never persisted.
type NetworkState struct {
	Online          bool          `json:"online"`
	ConnectionType  string        `json:"connectionType,omitempty"`
	DownlinkMbps    float64       `json:"downlinkMbps,omitempty"`
	RTT             time.Duration `json:"rtt"`
	RetryCount      int           `json:"retryCount"`
	LastHeartbeatAt time.Time     `json:"lastHeartbeatAt"`
	Quality         Quality       `json:"quality"`
	Degraded        bool          `json:"degraded"`
}

// Intervals is the tuned cadence for the periodic loops.
type Intervals struct {
	Heartbeat time.Duration
	Sync      time.Duration
}

// TuneIntervals maps a quality class onto loop intervals for the given base
// sync interval.
func TuneIntervals(q Quality, baseSync time.Duration) Intervals {
	switch q {
	case QualitySlow:
		return Intervals{Heartbeat: 60 * time.Second, Sync: 2 * baseSync}
	case QualityGood:
		return Intervals{Heartbeat: 15 * time.Second, Sync: max(baseSync/2, minSyncInterval)}
	}
	return Intervals{Heartbeat: 30 * time.Second, Sync: baseSync}
}

// Classify combines the probe RTT with connection hints. downlink <= 0 means
// unknown.
func Classify(rtt time.Duration, downlinkMbps float64, connectionType string, degraded bool) Quality {
	switch connectionType {
	case "slow-2g", "2g":
		return QualitySlow
	}
	known := downlinkMbps > 0
	if degraded || rtt > slowRTT || (known && downlinkMbps < slowDownlinkMbps) {
		return QualitySlow
	}
	if connectionType == "3g" {
		return QualityModerate
	}
	if rtt < goodRTT && (!known || downlinkMbps >= goodDownlinkMbps) {
		return QualityGood
	}
	return QualityModerate
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Policy          RetryPolicy
	BaseSync        time.Duration
	QualityInterval time.Duration
	ConnectionType  string
	// Probe measures the backend round trip (HEAD /health).
	Probe func(context.Context) (time.Duration, error)
	Clock clock.Clock
}

// Controller owns the NetworkState and wraps every outbound call.
type Controller struct {
	policy          RetryPolicy
	probe           func(context.Context) (time.Duration, error)
	clk             clock.Clock
	qualityInterval time.Duration
	logger          zerolog.Logger

	mu        sync.Mutex
	state     NetworkState
	baseSync  time.Duration
	intervals Intervals
	samples   []time.Duration

	hookMu      sync.Mutex
	onOffline   []func()
	onOnline    []func()
	onIntervals []func(Intervals)
}

// NewController creates a controller. The link starts online with a
// moderate classification until the first sample.
func NewController(cfg ControllerConfig) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Policy.Clock == nil {
		cfg.Policy.Clock = clk
	}
	if cfg.QualityInterval <= 0 {
		cfg.QualityInterval = 60 * time.Second
	}
	if cfg.BaseSync <= 0 {
		cfg.BaseSync = 30 * time.Second
	}
	c := &Controller{
		policy:          cfg.Policy,
		probe:           cfg.Probe,
		clk:             clk,
		qualityInterval: cfg.QualityInterval,
		logger:          xglog.WithComponent("resilience"),
		baseSync:        cfg.BaseSync,
		state: NetworkState{
			Online:         true,
			ConnectionType: cfg.ConnectionType,
			Quality:        QualityModerate,
		},
	}
	c.intervals = TuneIntervals(QualityModerate, cfg.BaseSync)
	metrics.SetOnline(true)
	metrics.SetRetryCount(0)
	metrics.SetNetworkQuality(string(QualityModerate))
	return c
}

// OnOffline registers a hook fired when the retry ceiling is exceeded.
func (c *Controller) OnOffline(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onOffline = append(c.onOffline, fn)
}

// OnOnline registers a hook fired on an offline to online transition.
func (c *Controller) OnOnline(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onOnline = append(c.onOnline, fn)
}

// OnIntervals registers a hook fired when the tuned intervals change.
func (c *Controller) OnIntervals(fn func(Intervals)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onIntervals = append(c.onIntervals, fn)
}

// State returns a copy of the network state.
func (c *Controller) State() NetworkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Online reports whether the backend is considered reachable.
func (c *Controller) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Online
}

// Intervals returns the currently tuned cadence.
func (c *Controller) Intervals() Intervals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervals
}

// SetBaseSync changes the configured sync interval and retunes.
func (c *Controller) SetBaseSync(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.baseSync = d
	changed, iv := c.retuneLocked()
	c.mu.Unlock()
	if changed {
		c.fireIntervals(iv)
	}
}

// MarkHeartbeat records a delivered heartbeat.
func (c *Controller) MarkHeartbeat(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastHeartbeatAt = at
}

// ObserveThroughput feeds a transfer measurement (e.g. a media download)
// into the downlink estimate.
func (c *Controller) ObserveThroughput(bytes int64, d time.Duration) {
	if bytes <= 0 || d <= 0 {
		return
	}
	mbps := float64(bytes) * 8 / 1e6 / d.Seconds()
	c.mu.Lock()
	if c.state.DownlinkMbps == 0 {
		c.state.DownlinkMbps = mbps
	} else {
		c.state.DownlinkMbps = 0.5*c.state.DownlinkMbps + 0.5*mbps
	}
	c.mu.Unlock()
}

// Call runs op under the shared retry counter. Success resets the counter
// and marks the link online. A retryable failure increments it and waits
// BaseDelay × retryCount; once the counter reaches Attempts the link is
// marked offline and ErrRetriesExhausted is returned. Non-retryable errors
// return at once and leave the state untouched.
func (c *Controller) Call(ctx context.Context, kind string, op func(context.Context) error) error {
	err := c.policy.Run(ctx, &linkTally{c: c, kind: kind}, op)
	if errors.Is(err, ErrRetriesExhausted) {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}

// linkTally feeds a retry loop into the shared link state.
type linkTally struct {
	c    *Controller
	kind string
}

func (t *linkTally) Succeeded(elapsed time.Duration) { t.c.recordSuccess(elapsed) }

func (t *linkTally) Failed(err error) int {
	count, wentOffline := t.c.recordFailure()
	t.c.logger.Debug().
		Err(err).
		Str("event", "resilience.call_failed").
		Str("kind", t.kind).
		Int(xglog.FieldRetryCount, count).
		Msg("outbound call failed")
	if wentOffline {
		t.c.goOffline(t.kind, err)
	}
	return count
}

// Sample probes the backend once and reclassifies the link.
func (c *Controller) Sample(ctx context.Context) (Quality, error) {
	if c.probe == nil {
		return c.State().Quality, nil
	}
	rtt, err := c.probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.State().Quality, ctx.Err()
		}
		_, wentOffline := c.recordFailure()
		if wentOffline {
			c.goOffline("probe", err)
		}
		return c.State().Quality, err
	}
	c.recordSuccess(rtt)

	c.mu.Lock()
	c.state.RTT = rtt
	q := Classify(rtt, c.state.DownlinkMbps, c.state.ConnectionType, c.state.Degraded)
	prev := c.state.Quality
	c.state.Quality = q
	changed, iv := c.retuneLocked()
	c.mu.Unlock()

	metrics.SetNetworkQuality(string(q))
	if q != prev {
		c.logger.Info().
			Str("event", "resilience.quality_changed").
			Str(xglog.FieldOldState, string(prev)).
			Str(xglog.FieldQuality, string(q)).
			Dur(xglog.FieldRTT, rtt).
			Msg("network quality changed")
	}
	if changed {
		c.fireIntervals(iv)
	}
	return q, nil
}

// Run samples link quality every quality interval until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	_, _ = c.Sample(ctx)
	t := c.clk.NewTicker(c.qualityInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			_, _ = c.Sample(ctx)
		}
	}
}

func (c *Controller) recordSuccess(rtt time.Duration) {
	c.mu.Lock()
	wasOffline := !c.state.Online
	c.state.Online = true
	c.state.RetryCount = 0
	c.pushSampleLocked(rtt)
	c.mu.Unlock()

	metrics.SetOnline(true)
	metrics.SetRetryCount(0)
	if wasOffline {
		c.logger.Info().Str("event", "resilience.online").Msg("backend reachable again")
		c.fire(c.onlineHooks())
	}
}

// recordFailure increments the retry counter and reports whether this
// failure crossed the ceiling.
func (c *Controller) recordFailure() (int, bool) {
	attempts := max(c.policy.Attempts, 1)
	c.mu.Lock()
	c.state.RetryCount++
	count := c.state.RetryCount
	wentOffline := c.state.Online && count >= attempts
	if wentOffline {
		c.state.Online = false
	}
	c.mu.Unlock()

	metrics.SetRetryCount(count)
	if wentOffline {
		metrics.SetOnline(false)
	}
	return count, wentOffline
}

func (c *Controller) goOffline(kind string, err error) {
	c.logger.Warn().
		Err(err).
		Str("event", "resilience.offline").
		Str("kind", kind).
		Msg("retry ceiling reached, switching to offline mode")
	c.fire(c.offlineHooks())
}

// caller holds c.mu
func (c *Controller) pushSampleLocked(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	c.samples = append(c.samples, rtt)
	if len(c.samples) > sampleWindow {
		c.samples = c.samples[len(c.samples)-sampleWindow:]
	}
	c.state.Degraded = degraded(c.samples)
}

// degraded compares the newer half of a full window against the older half.
func degraded(samples []time.Duration) bool {
	if len(samples) < sampleWindow {
		return false
	}
	half := sampleWindow / 2
	older := average(samples[:half])
	recent := average(samples[half:])
	return older > 0 && float64(recent) > degradationFactor*float64(older)
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// caller holds c.mu
func (c *Controller) retuneLocked() (bool, Intervals) {
	iv := TuneIntervals(c.state.Quality, c.baseSync)
	if iv == c.intervals {
		return false, iv
	}
	c.intervals = iv
	return true, iv
}

func (c *Controller) onlineHooks() []func() {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	return append([]func(){}, c.onOnline...)
}

func (c *Controller) offlineHooks() []func() {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	return append([]func(){}, c.onOffline...)
}

func (c *Controller) fire(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

func (c *Controller) fireIntervals(iv Intervals) {
	c.hookMu.Lock()
	hooks := append([]func(Intervals){}, c.onIntervals...)
	c.hookMu.Unlock()
	c.logger.Info().
		Str("event", "resilience.intervals").
		Dur("heartbeat", iv.Heartbeat).
		Dur("sync", iv.Sync).
		Msg("loop intervals retuned")
	for _, fn := range hooks {
		fn(iv)
	}
}
