// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist holds the playlist model, its content fingerprint and
// the change detection policy used by the synchronizer.
package playlist

import (
	"slices"
	"strconv"
	"time"
	"unicode/utf16"
)

// MediaType is the kind of media an item renders.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether t is a renderable media type.
func (t MediaType) Valid() bool {
	return t == MediaImage || t == MediaVideo
}

// Item is one entry of a playlist.
type Item struct {
	ID   string    `json:"id"`
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
	Name string    `json:"name"`
	// Duration in whole seconds, at least 1.
	Duration int `json:"duration"`
	Order    int `json:"order"`
}

// Length returns the configured display time of the item.
func (it Item) Length() time.Duration {
	return time.Duration(it.Duration) * time.Second
}

// Playlist is the content assigned to a device. It is immutable once built;
// a change on the server produces a new Playlist.
type Playlist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// UpdatedAt is the server's opaque revision marker.
	UpdatedAt   string `json:"updatedAt"`
	Items       []Item `json:"items"`
	Fingerprint int32  `json:"fingerprint"`
}

// New builds a playlist: items are sorted by Order, durations below one
// second are raised to one and the fingerprint is computed.
func New(id, name, updatedAt string, items []Item) *Playlist {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	slices.SortStableFunc(sorted, func(a, b Item) int { return a.Order - b.Order })
	for i := range sorted {
		if sorted[i].Duration < 1 {
			sorted[i].Duration = 1
		}
	}
	return &Playlist{
		ID:          id,
		Name:        name,
		UpdatedAt:   updatedAt,
		Items:       sorted,
		Fingerprint: Fingerprint(sorted),
	}
}

// Len returns the number of items; nil-safe.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// TotalDuration is the time one full loop takes, excluding settle delays.
func (p *Playlist) TotalDuration() time.Duration {
	if p == nil {
		return 0
	}
	var total time.Duration
	for _, it := range p.Items {
		total += it.Length()
	}
	return total
}

// URLs returns the distinct media URLs in playback order.
func (p *Playlist) URLs() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(p.Items))
	out := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if _, ok := seen[it.URL]; ok {
			continue
		}
		seen[it.URL] = struct{}{}
		out = append(out, it.URL)
	}
	return out
}

// Fingerprint hashes the ordered (id, duration) pairs with the classic
// 31-multiplier string hash over "id:duration|" in wrapping int32 arithmetic.
// Collisions are possible and accepted.
func Fingerprint(items []Item) int32 {
	var h int32
	for _, it := range items {
		s := it.ID + ":" + strconv.Itoa(it.Duration) + "|"
		for _, c := range utf16.Encode([]rune(s)) {
			h = h*31 + int32(c)
		}
	}
	return h
}

// Reason names the signal that made two playlists differ.
type Reason string

const (
	ReasonInitial     Reason = "initial"
	ReasonID          Reason = "id"
	ReasonUpdatedAt   Reason = "updated_at"
	ReasonFingerprint Reason = "fingerprint"
	ReasonItemCount   Reason = "item_count"
)

// Changed reports whether candidate must replace installed. Any single
// differing signal among id, UpdatedAt, fingerprint and item count is enough.
func Changed(installed, candidate *Playlist) bool {
	return len(Diff(installed, candidate)) > 0
}

// Diff lists every signal that differs between installed and candidate.
func Diff(installed, candidate *Playlist) []Reason {
	if candidate == nil {
		return nil
	}
	if installed == nil {
		return []Reason{ReasonInitial}
	}
	var reasons []Reason
	if installed.ID != candidate.ID {
		reasons = append(reasons, ReasonID)
	}
	if installed.UpdatedAt != candidate.UpdatedAt {
		reasons = append(reasons, ReasonUpdatedAt)
	}
	if installed.Fingerprint != candidate.Fingerprint {
		reasons = append(reasons, ReasonFingerprint)
	}
	if len(installed.Items) != len(candidate.Items) {
		reasons = append(reasons, ReasonItemCount)
	}
	return reasons
}
