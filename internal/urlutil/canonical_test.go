package urlutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "Standard URL", input: "http://example.com/path", want: "http://example.com/path"},
		{name: "Uppercase Scheme and Host", input: "HTTPS://EXAMPLE.COM/path", want: "https://example.com/path"},
		{name: "With Default HTTP Port", input: "http://example.com:80/path", want: "http://example.com/path"},
		{name: "With Default HTTPS Port", input: "https://example.com:443/path", want: "https://example.com/path"},
		{name: "With Custom Port", input: "http://example.com:8080/path", want: "http://example.com:8080/path"},
		{name: "With Fragment", input: "http://example.com/about#team", want: "http://example.com/about"},
		{name: "With Trailing Slash", input: "http://example.com/about/", want: "http://example.com/about"},
		{name: "Root Path with Trailing Slash", input: "http://example.com/", want: "http://example.com/"},
		{name: "Surrounding whitespace", input: "  https://example.com/a  ", want: "https://example.com/a"},
		{name: "Invalid URL", input: "://example.com", wantErr: true},
		{name: "Relative URL", input: "/path/to/resource", wantErr: true},
		{name: "Unsupported Scheme", input: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubResource(t *testing.T) {
	tests := []struct {
		name     string
		website  string
		page     string
		wantPage string
		wantHost string
		wantSub  bool
		wantErr  bool
	}{
		{name: "page under root", website: "https://example.com", page: "https://example.com/about", wantPage: "https://example.com/about", wantHost: "example.com"},
		{name: "website itself", website: "https://example.com/", page: "https://EXAMPLE.com/", wantPage: "https://example.com/", wantHost: "example.com"},
		{name: "page under website path", website: "https://example.com/blog", page: "https://example.com/blog/post-1", wantPage: "https://example.com/blog/post-1", wantHost: "example.com"},
		{name: "sibling path with shared prefix", website: "https://example.com/blog", page: "https://example.com/blogger", wantSub: true},
		{name: "other host", website: "https://example.com", page: "https://other.com/about", wantSub: true},
		{name: "other scheme", website: "https://example.com", page: "http://example.com/about", wantSub: true},
		{name: "invalid page", website: "https://example.com", page: "about", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, page, host, err := SubResource(tt.website, tt.page)
			switch {
			case tt.wantSub:
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotSubResource))
			case tt.wantErr:
				require.Error(t, err)
				assert.False(t, errors.Is(err, ErrNotSubResource))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantPage, page)
				assert.Equal(t, tt.wantHost, host)
			}
		})
	}
}
