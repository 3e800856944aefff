package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization.
// Exact names plus any utm_* prefix.
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
}

// Canonicalize normalizes a URL into the form used as the dedup key across
// all providers in one request: https scheme, lowercase host, default ports
// and fragments and tracking params stripped, trailing slash collapsed.
func Canonicalize(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discovery: parse url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("discovery: unsupported scheme %q", u.Scheme)
	}

	u.Scheme = "https"
	u.Fragment = ""
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", "", fmt.Errorf("discovery: empty host in %q", raw)
	}
	port := u.Port()
	if port == "" || port == "80" || port == "443" {
		u.Host = host
	} else {
		u.Host = host + ":" + port
	}

	q := u.Query()
	for name := range q {
		if trackingParams[name] || strings.HasPrefix(name, "utm_") {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path == "/" {
		u.Path = ""
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), host, nil
}
