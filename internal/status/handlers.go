// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/signplay/internal/device"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/goccy/go-json"
)

const (
	defaultPlaysLimit = 50
	maxPlaysLimit     = 1000
	maxBodyBytes      = 1 << 10
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Player.Snapshot())
}

func (s *Server) handlePlaylistM3U(w http.ResponseWriter, r *http.Request) {
	pl := s.cfg.Player.CurrentPlaylist()
	if pl == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no_playlist"})
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="playlist.m3u"`)
	if err := playlist.WriteM3U(w, pl); err != nil {
		logger := xglog.WithComponentFromContext(r.Context(), "status")
		logger.Warn().Err(err).Str(xglog.FieldEvent, "status.m3u_failed").Msg("playlist export interrupted")
	}
}

func (s *Server) handlePlays(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PlayLog == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "playlog_disabled"})
		return
	}
	limit := defaultPlaysLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_limit"})
			return
		}
		limit = min(n, maxPlaysLimit)
	}
	entries, err := s.cfg.PlayLog.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "playlog_unavailable", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Player.Wake()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync_requested"})
}

type deviceResetRequest struct {
	// Code installs a specific code; empty generates a new one.
	Code string `json:"code"`
}

func (s *Server) handleDeviceReset(w http.ResponseWriter, r *http.Request) {
	var req deviceResetRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
			return
		}
	}

	code, err := s.cfg.Player.ChangeDevice(r.Context(), strings.ToUpper(strings.TrimSpace(req.Code)))
	switch {
	case errors.Is(err, device.ErrInvalidCode):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_code", Detail: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "device_change_failed", Detail: err.Error()})
		return
	}

	logger := xglog.WithComponentFromContext(r.Context(), "status")
	logger.Info().
		Str(xglog.FieldEvent, "status.device_reset").
		Str(xglog.FieldDeviceCode, code).
		Msg("device code changed via status API")
	writeJSON(w, http.StatusOK, map[string]string{"deviceCode": code})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Reload == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "reload_unavailable"})
		return
	}
	if err := s.cfg.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "reload_failed", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
