// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache keeps the media index: which media URLs have been primed.
// The index is a pure hint; a missing entry never blocks playback.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Entry is what the player knows about a primed media URL.
type Entry struct {
	Type      string    `json:"type"`
	Preloaded bool      `json:"preloaded"`
	Timestamp time.Time `json:"timestamp"`
	// SizeOrDuration holds pixel area for images and seconds for videos.
	SizeOrDuration float64 `json:"sizeOrDuration"`
}

// Pair is one index row. It serializes as a two element array [url, entry].
type Pair struct {
	URL   string
	Entry Entry
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.URL, p.Entry})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cache pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.URL); err != nil {
		return fmt.Errorf("cache pair url: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Entry); err != nil {
		return fmt.Errorf("cache pair entry: %w", err)
	}
	return nil
}

// Stats holds index performance counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	CurrentSize int     `json:"size"`
	HitRate     float64 `json:"hitRate"`
}

// Index maps media URL to Entry. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
	hits    int64
	misses  int64
	sets    int64
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Lookup returns the entry for url and counts a hit or a miss.
func (c *Index) Lookup(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if ok && e.Preloaded {
		c.hits++
		return e, true
	}
	c.misses++
	return Entry{}, false
}

func (c *Index) Put(url string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = e
	c.sets++
}

func (c *Index) Delete(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

// Clear drops all entries. Counters survive.
func (c *Index) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

func (c *Index) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns all rows sorted by URL.
func (c *Index) Snapshot() []Pair {
	c.mu.RLock()
	out := make([]Pair, 0, len(c.entries))
	for url, e := range c.entries {
		out = append(out, Pair{URL: url, Entry: e})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Restore replaces the index content with pairs.
func (c *Index) Restore(pairs []Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry, len(pairs))
	for _, p := range pairs {
		if p.URL == "" {
			continue
		}
		c.entries[p.URL] = p.Entry
	}
}

func (c *Index) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		CurrentSize: len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
