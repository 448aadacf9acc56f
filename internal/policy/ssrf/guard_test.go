package ssrf

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs map[string][]string
	err   error
	calls atomic.Int32
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	var out []net.IPAddr
	for _, raw := range f.addrs[host] {
		out = append(out, net.IPAddr{IP: net.ParseIP(raw)})
	}
	return out, nil
}

func TestGuardCheck(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{addrs: map[string][]string{
		"public.example":   {"93.184.216.34"},
		"internal.example": {"10.0.0.7"},
		"mixed.example":    {"93.184.216.34", "127.0.0.1"},
		"mapped.example":   {"::ffff:192.168.1.10"},
		"v6.example":       {"2606:2800:220:1:248:1893:25c8:1946"},
		"empty.example":    {},
	}}
	guard := New(resolver)

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"public host", "https://public.example/investors", true},
		{"public v6 host", "http://v6.example/", true},
		{"private host", "https://internal.example/", false},
		{"one private address", "https://mixed.example/", false},
		{"mapped private", "https://mapped.example/", false},
		{"no addresses", "https://empty.example/", false},
		{"ftp scheme", "ftp://public.example/file.pdf", false},
		{"file scheme", "file:///etc/passwd", false},
		{"loopback literal", "http://127.0.0.1:8080/", false},
		{"metadata literal", "http://169.254.169.254/latest", false},
		{"public literal", "http://8.8.8.8/", true},
		{"v6 loopback literal", "http://[::1]/", false},
		{"missing host", "https:///path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := guard.Check(context.Background(), tt.url)
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrBlocked)
		})
	}
}

func TestGuardResolutionFailureBlocks(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{err: errors.New("no such host")}
	err := New(resolver).Check(context.Background(), "https://unknown.example/")
	require.ErrorIs(t, err, ErrBlocked)
	require.Equal(t, int32(1), resolver.calls.Load())
}

func TestIsPublic(t *testing.T) {
	t.Parallel()

	blocked := []string{
		"10.1.2.3", "172.16.0.1", "192.168.0.1", "127.0.0.1", "169.254.1.1",
		"224.0.0.1", "0.0.0.0", "100.64.0.1", "192.0.2.5", "198.18.0.1",
		"240.0.0.1", "255.255.255.255", "::", "::1", "fe80::1", "fc00::1",
		"ff02::1", "2001:db8::1",
	}
	for _, raw := range blocked {
		require.False(t, IsPublic(netip.MustParseAddr(raw)), raw)
	}
	require.True(t, IsPublic(netip.MustParseAddr("1.1.1.1")))
}

func TestDialControl(t *testing.T) {
	t.Parallel()

	for _, address := range []string{"127.0.0.1:80", "10.0.0.1:443", "[::1]:80", "169.254.169.254:80", "not-an-address"} {
		require.ErrorIs(t, DialControl("tcp", address, nil), ErrBlocked, address)
	}
	for _, address := range []string{"93.184.216.34:443", "[2606:4700::6810:85e5]:443"} {
		require.NoError(t, DialControl("tcp", address, nil), address)
	}
}
