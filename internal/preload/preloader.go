// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package preload primes playlist media ahead of playback with bounded
// concurrency and records what succeeded in the media cache index.
package preload

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/signplay/internal/cache"
	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 3
	DefaultTimeout     = 15 * time.Second
)

// Outcome is the settled result for one playlist item.
type Outcome struct {
	Item    playlist.Item
	Cached  bool
	Meta    Metadata
	Elapsed time.Duration
	Err     error
}

// Persister stores the cache index after a batch.
type Persister interface {
	SaveMediaCache(ctx context.Context, entries []cache.Pair) error
}

// Options configures a Preloader.
type Options struct {
	Images      MediaProbe
	Videos      MediaProbe
	Index       *cache.Index
	Policy      *Policy
	Persister   Persister
	Concurrency int
	Timeout     time.Duration
	Clock       clock.Clock
	// OnThroughput receives bytes and elapsed time of every fetch.
	OnThroughput func(bytes int64, d time.Duration)
}

// Preloader primes media. Safe for concurrent use, though the synchronizer
// runs one batch at a time.
type Preloader struct {
	images       MediaProbe
	videos       MediaProbe
	index        *cache.Index
	persister    Persister
	concurrency  int
	timeout      time.Duration
	clk          clock.Clock
	onThroughput func(int64, time.Duration)
	policy       atomic.Pointer[Policy]
	logger       zerolog.Logger
}

func New(opts Options) *Preloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Index == nil {
		opts.Index = cache.NewIndex()
	}
	p := &Preloader{
		images:       opts.Images,
		videos:       opts.Videos,
		index:        opts.Index,
		persister:    opts.Persister,
		concurrency:  opts.Concurrency,
		timeout:      opts.Timeout,
		clk:          opts.Clock,
		onThroughput: opts.OnThroughput,
		logger:       xglog.WithComponent("preload"),
	}
	p.policy.Store(opts.Policy)
	return p
}

// SetPolicy swaps the media policy (config reload).
func (p *Preloader) SetPolicy(pol *Policy) {
	p.policy.Store(pol)
}

// Index returns the cache index the preloader writes to.
func (p *Preloader) Index() *cache.Index { return p.index }

// Preload primes every item and returns one outcome per item, in item order.
// Items are dispatched in order with at most Concurrency in flight; a new
// one starts as soon as any finishes. Individual failures never fail the
// batch. Items sharing a URL are fetched once.
func (p *Preloader) Preload(ctx context.Context, items []playlist.Item) []Outcome {
	outcomes := make([]Outcome, len(items))
	byURL := make(map[string][]int, len(items))
	var order []string
	for i, it := range items {
		outcomes[i].Item = it
		if _, seen := byURL[it.URL]; !seen {
			order = append(order, it.URL)
		}
		byURL[it.URL] = append(byURL[it.URL], i)
	}

	batchStart := p.clk.Now()
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, url := range order {
		idx := byURL[url]
		first := items[idx[0]]
		if ctx.Err() != nil {
			for _, i := range idx {
				outcomes[i].Err = ctx.Err()
			}
			continue
		}
		g.Go(func() error {
			res := p.preloadOne(ctx, first)
			for _, i := range idx {
				item := outcomes[i].Item
				outcomes[i] = res
				outcomes[i].Item = item
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logBatch(outcomes, p.clk.Now().Sub(batchStart))
	p.persist(ctx)
	return outcomes
}

func (p *Preloader) preloadOne(ctx context.Context, it playlist.Item) Outcome {
	mediaType := string(it.Type)
	_, primed := p.index.Lookup(it.URL)
	metrics.RecordCacheLookup(primed)
	if primed {
		metrics.RecordPreload(mediaType, "cached", 0)
		return Outcome{Item: it, Cached: true}
	}

	start := p.clk.Now()
	meta, err := p.fetch(ctx, it)
	elapsed := p.clk.Now().Sub(start)
	if meta.Bytes > 0 && p.onThroughput != nil && err == nil {
		p.onThroughput(meta.Bytes, elapsed)
	}
	if err != nil {
		metrics.RecordPreload(mediaType, "failure", elapsed)
		p.logger.Warn().
			Err(err).
			Str("event", "preload.item_failed").
			Str(xglog.FieldItemID, it.ID).
			Str(xglog.FieldMediaType, mediaType).
			Str(xglog.FieldMediaURL, it.URL).
			Msg("media preload failed")
		return Outcome{Item: it, Meta: meta, Elapsed: elapsed, Err: err}
	}

	metrics.RecordPreload(mediaType, "success", elapsed)
	p.index.Put(it.URL, cache.Entry{
		Type:           mediaType,
		Preloaded:      true,
		Timestamp:      p.clk.Now(),
		SizeOrDuration: sizeOrDuration(it.Type, meta),
	})
	return Outcome{Item: it, Meta: meta, Elapsed: elapsed}
}

func (p *Preloader) fetch(ctx context.Context, it playlist.Item) (meta Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := it.URL
	if pol := p.policy.Load(); pol != nil {
		if url, err = pol.Check(ctx, it.URL); err != nil {
			return Metadata{}, err
		}
	}

	var probe MediaProbe
	switch it.Type {
	case playlist.MediaImage:
		probe = p.images
	case playlist.MediaVideo:
		probe = p.videos
	}
	if probe == nil {
		return Metadata{}, fmt.Errorf("no probe for media type %q", it.Type)
	}
	return probe.Probe(ctx, url)
}

func sizeOrDuration(t playlist.MediaType, m Metadata) float64 {
	if t == playlist.MediaVideo {
		return m.Duration.Seconds()
	}
	return float64(m.Width * m.Height)
}

func (p *Preloader) logBatch(outcomes []Outcome, elapsed time.Duration) {
	var ok, cached, failed int
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.Cached:
			cached++
		default:
			ok++
		}
	}
	p.logger.Info().
		Str("event", "preload.batch_done").
		Int("items", len(outcomes)).
		Int("primed", ok).
		Int("cached", cached).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("media preload settled")
}

func (p *Preloader) persist(ctx context.Context) {
	if p.persister == nil {
		return
	}
	if err := p.persister.SaveMediaCache(context.WithoutCancel(ctx), p.index.Snapshot()); err != nil {
		p.logger.Warn().Err(err).Str("event", "preload.persist_failed").Msg("media cache index not persisted")
	}
}
