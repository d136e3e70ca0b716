// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://example.com", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)
			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_DeviceCode(t *testing.T) {
	tests := []struct {
		code    string
		wantErr bool
	}{
		{"", false},
		{"AB12CD34", false},
		{"ab12cd34", true},
		{"AB12CD3", true},
		{"AB12-D34", true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			v := New()
			v.DeviceCode("device.code", tt.code)
			if got := !v.IsValid(); got != tt.wantErr {
				t.Errorf("DeviceCode(%q) error = %v, want %v", tt.code, got, tt.wantErr)
			}
		})
	}
}

func TestValidator_DurationRangeAndListen(t *testing.T) {
	v := New()
	v.DurationRange("sync.interval", 2*time.Second, 5*time.Second, time.Hour)
	v.ListenAddr("status.listen", "localhost")
	v.ListenAddr("status.listen", "127.0.0.1:9780")
	v.CIDRs("media.allow_cidrs", []string{"10.0.0.0/8", "192.168.1.4", "nope"})

	if got := len(v.Errors()); got != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", got, v.Err())
	}
}

func TestValidator_DirectoryCreates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	v := New()
	v.Directory("data_dir", dir, false)
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}

	v = New()
	v.Directory("data_dir", filepath.Join(t.TempDir(), "missing"), true)
	if v.IsValid() {
		t.Fatal("expected error for missing directory")
	}
}

func TestValidationError_Aggregates(t *testing.T) {
	v := New()
	v.NotEmpty("a", " ")
	v.OneOf("b", "x", []string{"y", "z"})

	err := v.Err()
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(verr.Errors()))
	}
	if New().Err() != nil {
		t.Fatal("empty validator must return nil error")
	}
}
