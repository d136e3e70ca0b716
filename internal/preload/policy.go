// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package preload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ManuGH/signplay/internal/config"
	"golang.org/x/net/idna"
)

var (
	// ErrMediaNotAllowed indicates the media URL did not match the allowlist.
	ErrMediaNotAllowed = errors.New("media url not allowed")
	// ErrSchemeNotAllowed indicates a scheme outside the configured set.
	ErrSchemeNotAllowed = errors.New("media url scheme not allowed")
)

// Policy restricts where media may be fetched from. With empty host and
// CIDR lists any host is accepted; only the scheme is checked.
type Policy struct {
	schemes map[string]struct{}
	hosts   map[string]struct{}
	cidrs   []*net.IPNet
	resolve func(ctx context.Context, host string) ([]net.IP, error)
}

// NewPolicy compiles the media section of the config.
func NewPolicy(cfg config.MediaConfig) (*Policy, error) {
	p := &Policy{
		schemes: make(map[string]struct{}),
		hosts:   make(map[string]struct{}),
		resolve: lookupIPs,
	}
	schemes := cfg.AllowSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		p.schemes[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, h := range cfg.AllowHosts {
		norm, err := NormalizeHost(h)
		if err != nil {
			return nil, err
		}
		p.hosts[norm] = struct{}{}
	}
	for _, entry := range cfg.AllowCIDRs {
		n, err := parseCIDR(entry)
		if err != nil {
			return nil, err
		}
		if n != nil {
			p.cidrs = append(p.cidrs, n)
		}
	}
	return p, nil
}

// Restricted reports whether a host allowlist is in force.
func (p *Policy) Restricted() bool {
	return p != nil && (len(p.hosts) > 0 || len(p.cidrs) > 0)
}

// Check validates raw and returns it with an IDNA-normalized host.
func (p *Policy) Check(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid media url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("media url %q has no host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if p == nil {
		return u.String(), nil
	}
	if _, ok := p.schemes[scheme]; !ok {
		return "", fmt.Errorf("%w: %q", ErrSchemeNotAllowed, scheme)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	if !p.Restricted() {
		return u.String(), nil
	}
	if _, ok := p.hosts[host]; ok {
		return u.String(), nil
	}
	if len(p.cidrs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrMediaNotAllowed, host)
	}

	ips, err := p.resolve(ctx, host)
	if err != nil {
		return "", err
	}
	// every resolved address must fall inside the allowlist
	for _, ip := range ips {
		if !inCIDRs(ip, p.cidrs) {
			return "", fmt.Errorf("%w: %s resolves to %s", ErrMediaNotAllowed, host, ip)
		}
	}
	return u.String(), nil
}

// NormalizeHost lowercases a host, strips a trailing dot and converts
// internationalized names to their ASCII form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.ContainsAny(host, "/@%") {
		return "", fmt.Errorf("invalid host %q", raw)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

func parseCIDR(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, nil
	}
	if _, n, err := net.ParseCIDR(entry); err == nil {
		return n, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("invalid CIDR or IP: %s", entry)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func inCIDRs(ip net.IP, cidrs []*net.IPNet) bool {
	for _, n := range cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func lookupIPs(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve host %q: no addresses", host)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}
