// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlog keeps a local proof-of-play record in SQLite.
package playlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_code TEXT NOT NULL,
	playlist_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	media_type TEXT NOT NULL,
	url TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL,
	completed INTEGER NOT NULL CHECK(completed IN (0, 1)),
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_plays_started ON plays(started_at);
CREATE INDEX IF NOT EXISTS idx_plays_item ON plays(item_id, started_at);
`

// Entry is one logged play.
type Entry struct {
	DeviceCode string    `json:"deviceCode"`
	PlaylistID string    `json:"playlistId"`
	ItemID     string    `json:"itemId"`
	MediaType  string    `json:"mediaType"`
	URL        string    `json:"url"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	Completed  bool      `json:"completed"`
	Error      string    `json:"error,omitempty"`
}

// Counts aggregates plays over a window.
type Counts struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ItemCount aggregates completed plays of one item.
type ItemCount struct {
	ItemID     string        `json:"itemId"`
	Plays      int64         `json:"plays"`
	PlayedTime time.Duration `json:"playedTime"`
}

type Log struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the log at path. A database that fails its
// integrity check is moved aside and replaced with an empty one; the play
// log is a record, not state the player depends on.
func Open(path string) (*Log, error) {
	logger := xglog.WithComponent("playlog")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create playlog dir: %w", err)
	}

	issues, err := verifyIntegrity(path)
	if err != nil {
		return nil, err
	}
	if issues != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		logger.Warn().
			Str(xglog.FieldEvent, "playlog.corrupt").
			Str(xglog.FieldPath, path).
			Strs("issues", issues).
			Str("moved_to", aside).
			Msg("play log failed integrity check, starting fresh")
		if err := os.Rename(path, aside); err != nil {
			return nil, fmt.Errorf("move corrupt playlog: %w", err)
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Remove(path + suffix)
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate playlog: %w", err)
	}
	return &Log{db: db, logger: logger}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one finished item.
func (l *Log) Record(ctx context.Context, deviceCode string, rec playback.PlayRecord) error {
	errText := ""
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO plays (device_code, playlist_id, item_id, media_type, url, started_at, ended_at, completed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceCode, rec.PlaylistID, rec.Item.ID, string(rec.Item.Type), rec.Item.URL,
		rec.Started.UnixMilli(), rec.Ended.UnixMilli(), boolInt(rec.Completed), errText)
	if err != nil {
		return fmt.Errorf("insert play: %w", err)
	}
	return nil
}

// Counts returns completed and failed plays started at or after since.
func (l *Log) Counts(ctx context.Context, since time.Time) (Counts, error) {
	var c Counts
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(completed), 0), COALESCE(SUM(1 - completed), 0)
		 FROM plays WHERE started_at >= ?`, since.UnixMilli()).Scan(&c.Completed, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("count plays: %w", err)
	}
	return c, nil
}

// ItemCounts returns completed plays per item since the given time, most
// played first.
func (l *Log) ItemCounts(ctx context.Context, since time.Time) ([]ItemCount, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT item_id, COUNT(*), COALESCE(SUM(ended_at - started_at), 0)
		 FROM plays WHERE completed = 1 AND started_at >= ?
		 GROUP BY item_id ORDER BY COUNT(*) DESC, item_id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query item counts: %w", err)
	}
	defer rows.Close()

	var out []ItemCount
	for rows.Next() {
		var ic ItemCount
		var playedMillis int64
		if err := rows.Scan(&ic.ItemID, &ic.Plays, &playedMillis); err != nil {
			return nil, fmt.Errorf("scan item count: %w", err)
		}
		ic.PlayedTime = time.Duration(playedMillis) * time.Millisecond
		out = append(out, ic)
	}
	return out, rows.Err()
}

// Recent returns the newest entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT device_code, playlist_id, item_id, media_type, url, started_at, ended_at, completed, error
		 FROM plays ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent plays: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, ended int64
		var completed int
		if err := rows.Scan(&e.DeviceCode, &e.PlaylistID, &e.ItemID, &e.MediaType, &e.URL,
			&started, &ended, &completed, &e.Error); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.EndedAt = time.UnixMilli(ended)
		e.Completed = completed == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes plays started before cutoff and returns how many went.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM plays WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune plays: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Info().
			Str(xglog.FieldEvent, "playlog.pruned").
			Int64("rows", n).
			Time("cutoff", cutoff).
			Msg("old plays pruned")
	}
	return n, nil
}

// Ping checks the database is reachable; used by readiness.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
