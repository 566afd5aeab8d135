package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

// NormalizeURL standardizes a URL for comparison and storage.
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https),
// removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/",
// sorts query parameters and removes fragments.
// Query strings are kept: image hosts commonly key files by them.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}
	normalized.RawPath = ""

	if normalized.RawQuery != "" {
		if values, err := url.ParseQuery(normalized.RawQuery); err == nil {
			normalized.RawQuery = values.Encode() // Encode sorts by key
		}
	}
	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

// ParseAndNormalize validates a URL string with the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL.
// ParseRequestURI keeps "#..." inside the path, so the URL is parsed again and the fragment dropped.
// Returns the normalized string, the parsed URL object without its fragment, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	if _, err := url.ParseRequestURI(urlStr); err != nil {
		return "", nil, err
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", nil, err
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return NormalizeURL(parsed), parsed, nil
}

// ResolveURL resolves ref against base and rejects anything that is not http(s).
func ResolveURL(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty URL reference", utils.ErrParsing)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, ref, err)
	}
	resolved := base.ResolveReference(refURL)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported URL scheme '%s' in '%s'", utils.ErrParsing, resolved.Scheme, ref)
	}
	return resolved, nil
}

// HostKey returns the lower-cased host name (without port) used to group work per host.
func HostKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
