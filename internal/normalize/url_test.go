package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{"root gains slash", "https://Example.com", "", "https://example.com/"},
		{"trailing slash trimmed", "https://example.com/investors/", "", "https://example.com/investors"},
		{"relative resolved", "../results/q1", "https://example.com/investors/overview", "https://example.com/results/q1"},
		{"tracking dropped and sorted", "/ir?utm_source=mail&b=2&a=1&gclid=xyz", "https://example.com", "https://example.com/ir?a=1&b=2"},
		{"blank values kept", "https://example.com/p?z=&a=1", "", "https://example.com/p?a=1&z="},
		{"repeated keys sorted by value", "https://example.com/p?k=2&k=1", "", "https://example.com/p?k=1&k=2"},
		{"fragment removed", "https://example.com/annual#section-2", "", "https://example.com/annual"},
		{"host and scheme lowercased", "HTTPS://IR.Example.COM/Results", "", "https://ir.example.com/Results"},
		{"whitespace trimmed", "  /docs/report.pdf  ", "https://example.com/", "https://example.com/docs/report.pdf"},
		{"port preserved", "https://example.com:8443/ir/", "", "https://example.com:8443/ir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := URL(tt.raw, tt.base)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestURLIsIdempotent(t *testing.T) {
	t.Parallel()

	once, err := URL("/Investors/?utm_campaign=x&q=annual+report", "https://Example.com")
	require.NoError(t, err)
	twice, err := URL(once, "")
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestURLInvalid(t *testing.T) {
	t.Parallel()

	_, err := URL("http://[::1", "")
	require.Error(t, err)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://Example.com/a", "http://example.com/b"))
	require.False(t, SameHost("https://example.com/a", "https://ir.example.com/a"))
	require.False(t, SameHost("https://example.com:8080/", "https://example.com/"))
}
