// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package preload

import (
	"context"
	"net"
	"testing"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"CDN.Example.com.", "cdn.example.com", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"[2001:db8::1]", "2001:db8::1", false},
		{"10.0.0.1", "10.0.0.1", false},
		{"host:8080", "", true},
		{"user@host", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHost(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_Unrestricted(t *testing.T) {
	p, err := NewPolicy(config.MediaConfig{})
	require.NoError(t, err)
	assert.False(t, p.Restricted())

	got, err := p.Check(context.Background(), "https://CDN.Example/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.png", got)

	_, err = p.Check(context.Background(), "ftp://cdn.example/a.png")
	assert.ErrorIs(t, err, ErrSchemeNotAllowed)

	_, err = p.Check(context.Background(), "/relative.png")
	assert.Error(t, err)
}

func TestPolicy_HostAllowlist(t *testing.T) {
	p, err := NewPolicy(config.MediaConfig{AllowHosts: []string{"bücher.example"}})
	require.NoError(t, err)

	got, err := p.Check(context.Background(), "https://BÜCHER.example:8443/x.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://xn--bcher-kva.example:8443/x.mp4", got)

	_, err = p.Check(context.Background(), "https://evil.example/x.mp4")
	assert.ErrorIs(t, err, ErrMediaNotAllowed)
}

func TestPolicy_CIDRAllowlist(t *testing.T) {
	p, err := NewPolicy(config.MediaConfig{AllowCIDRs: []string{"10.20.0.0/16", "192.168.1.5"}})
	require.NoError(t, err)
	p.resolve = func(_ context.Context, host string) ([]net.IP, error) {
		switch host {
		case "lan.cdn":
			return []net.IP{net.ParseIP("10.20.3.4")}, nil
		case "split.cdn":
			return []net.IP{net.ParseIP("10.20.3.4"), net.ParseIP("8.8.8.8")}, nil
		}
		return []net.IP{net.ParseIP(host)}, nil
	}

	ctx := context.Background()
	_, err = p.Check(ctx, "http://lan.cdn/a.png")
	assert.NoError(t, err)
	_, err = p.Check(ctx, "http://192.168.1.5/a.png")
	assert.NoError(t, err)
	_, err = p.Check(ctx, "http://split.cdn/a.png")
	assert.ErrorIs(t, err, ErrMediaNotAllowed, "every address must be allowed")
	_, err = p.Check(ctx, "http://192.168.1.6/a.png")
	assert.ErrorIs(t, err, ErrMediaNotAllowed)
}

func TestNewPolicy_RejectsBadEntries(t *testing.T) {
	_, err := NewPolicy(config.MediaConfig{AllowCIDRs: []string{"not-a-cidr"}})
	assert.Error(t, err)
	_, err = NewPolicy(config.MediaConfig{AllowHosts: []string{"a/b"}})
	assert.Error(t, err)
}

func TestPolicy_NilAllowsAll(t *testing.T) {
	var p *Policy
	got, err := p.Check(context.Background(), "gopher://x/y")
	require.NoError(t, err)
	assert.Equal(t, "gopher://x/y", got)
}
