package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotSubResource is returned when a page URL lies outside its website.
var ErrNotSubResource = errors.New("page url is not a sub-resource of the website url")

// Canonicalize parses a raw URL string and returns its canonical form.
// Scheme and host are lowercased, default ports and fragments are dropped
// and a trailing slash is trimmed unless the path is the root.
// Only absolute http and https URLs are accepted.
func Canonicalize(rawURL string) (string, error) {
	u, err := canonical(rawURL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func canonical(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http or https url: %q", rawURL)
	}

	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Hostname()
	}

	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u, nil
}

// SubResource canonicalizes both URLs and checks that pageURL lives under
// websiteURL: same scheme and host, and a path at or below the website path.
// It returns the canonical website URL, the canonical page URL and the page host.
func SubResource(websiteURL, pageURL string) (site, page, host string, err error) {
	w, err := canonical(websiteURL)
	if err != nil {
		return "", "", "", fmt.Errorf("website: %w", err)
	}
	p, err := canonical(pageURL)
	if err != nil {
		return "", "", "", fmt.Errorf("page: %w", err)
	}

	if w.Scheme != p.Scheme || w.Host != p.Host {
		return "", "", "", fmt.Errorf("%w: %s is not on %s", ErrNotSubResource, p, w)
	}

	base := strings.TrimSuffix(w.Path, "/")
	if base != "" && p.Path != base && !strings.HasPrefix(p.Path, base+"/") {
		return "", "", "", fmt.Errorf("%w: %s is outside %s", ErrNotSubResource, p, w)
	}

	return w.String(), p.String(), p.Hostname(), nil
}
