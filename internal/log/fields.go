// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldDeviceCode    = "device_code"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldService   = "service"

	// Playlist / media fields
	FieldPlaylistID   = "playlist_id"
	FieldPlaylistName = "playlist_name"
	FieldItemID       = "item_id"
	FieldItemIndex    = "item_index"
	FieldMediaType    = "media_type"
	FieldMediaURL     = "media_url"
	FieldFingerprint  = "fingerprint"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldEndpoint   = "endpoint"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
	FieldRetryCount = "retry_count"
	FieldRTT        = "rtt"
	FieldQuality    = "quality"

	// Path fields
	FieldPath = "path"
)
