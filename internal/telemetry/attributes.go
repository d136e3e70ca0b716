// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the player.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	DeviceCodeKey   = "player.device_code"
	EndpointKey     = "player.endpoint"
	AttemptKey      = "player.attempt"
	PlaylistIDKey   = "playlist.id"
	PlaylistSizeKey = "playlist.items"

	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CallAttributes describes one backend call attempt.
func CallAttributes(deviceCode, endpoint string, attempt int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if deviceCode != "" {
		attrs = append(attrs, attribute.String(DeviceCodeKey, deviceCode))
	}
	attrs = append(attrs,
		attribute.String(EndpointKey, endpoint),
		attribute.Int(AttemptKey, attempt),
	)
	return attrs
}

// PlaylistAttributes describes a fetched playlist.
func PlaylistAttributes(id string, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaylistIDKey, id),
		attribute.Int(PlaylistSizeKey, items),
	}
}
