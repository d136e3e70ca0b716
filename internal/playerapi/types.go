// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playerapi

import (
	"bytes"
	"strconv"

	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/goccy/go-json"
)

// FlexString accepts a JSON string, number or null. The backend emits
// numeric ids and millisecond timestamps on some routes and strings on others.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// PlaylistResponse is the body of GET /player/{code}.
type PlaylistResponse struct {
	Success   bool          `json:"success"`
	Playlist  *PlaylistMeta `json:"playlist"`
	Content   []ContentItem `json:"content"`
	Timestamp FlexString    `json:"timestamp"`
}

type PlaylistMeta struct {
	ID        FlexString `json:"id"`
	Name      string     `json:"name"`
	UpdatedAt FlexString `json:"updatedAt"`
}

type ContentItem struct {
	ID       FlexString `json:"id"`
	Media    Media      `json:"media"`
	Duration float64    `json:"duration"`
	Order    int        `json:"order"`
}

type Media struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// HasContent reports whether the device is paired and has something to show.
func (r *PlaylistResponse) HasContent() bool {
	return r != nil && r.Playlist != nil && len(r.Content) > 0
}

// ToPlaylist converts the response into the playback model. Items with an
// unknown media type or without a URL are dropped. Returns nil when the
// response carries no playable content.
func (r *PlaylistResponse) ToPlaylist() *playlist.Playlist {
	if !r.HasContent() {
		return nil
	}
	items := make([]playlist.Item, 0, len(r.Content))
	for _, c := range r.Content {
		mt := playlist.MediaType(c.Media.Type)
		if !mt.Valid() || c.Media.URL == "" {
			continue
		}
		items = append(items, playlist.Item{
			ID:       string(c.ID),
			Type:     mt,
			URL:      c.Media.URL,
			Name:     c.Media.Name,
			Duration: int(c.Duration),
			Order:    c.Order,
		})
	}
	if len(items) == 0 {
		return nil
	}
	// Timestamp stamps the response, not the playlist, so it never stands
	// in for a missing updatedAt. The fingerprint still catches edits.
	return playlist.New(string(r.Playlist.ID), r.Playlist.Name, string(r.Playlist.UpdatedAt), items)
}

// HeartbeatRequest is the body of POST /player/{code}/heartbeat.
type HeartbeatRequest struct {
	Status     string     `json:"status"`
	PlayerInfo PlayerInfo `json:"playerInfo"`
}

type PlayerInfo struct {
	CurrentIndex int         `json:"currentIndex"`
	IsPlaying    bool        `json:"isPlaying"`
	IsOnline     bool        `json:"isOnline"`
	PlaylistID   string      `json:"playlistId,omitempty"`
	PlaylistName string      `json:"playlistName,omitempty"`
	Stats        PlayStats   `json:"stats"`
	Network      NetworkInfo `json:"network"`
	Cache        CacheInfo   `json:"cache"`
	// Today counts plays since local midnight from the proof-of-play log.
	Today   *PlayStats `json:"today,omitempty"`
	Uptime  float64    `json:"uptime"` // seconds
	Version string     `json:"version"`
}

type PlayStats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Errors    int64 `json:"errors"`
}

type NetworkInfo struct {
	Quality        string  `json:"quality"`
	ConnectionType string  `json:"connectionType,omitempty"`
	DownlinkMbps   float64 `json:"downlink,omitempty"`
	RTTMillis      int64   `json:"rtt"`
	RetryCount     int     `json:"retryCount"`
}

type CacheInfo struct {
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// PlaylistChangeRequest announces a newly installed playlist.
type PlaylistChangeRequest struct {
	PlaylistID   string `json:"playlistId"`
	PlaylistName string `json:"playlistName"`
	ItemCount    int    `json:"itemCount"`
	UpdatedAt    string `json:"updatedAt"`
	Fingerprint  string `json:"fingerprint"`
	Timestamp    int64  `json:"timestamp"` // unix ms
}

// NewPlaylistChange builds the announcement body for pl.
func NewPlaylistChange(pl *playlist.Playlist, unixMillis int64) PlaylistChangeRequest {
	return PlaylistChangeRequest{
		PlaylistID:   pl.ID,
		PlaylistName: pl.Name,
		ItemCount:    pl.Len(),
		UpdatedAt:    pl.UpdatedAt,
		Fingerprint:  strconv.FormatInt(int64(pl.Fingerprint), 10),
		Timestamp:    unixMillis,
	}
}

// ErrorReport is the body of POST /player/{code}/error.
type ErrorReport struct {
	Kind      string `json:"type"`
	Message   string `json:"message"`
	ItemID    string `json:"itemId,omitempty"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix ms
}
