package handler

import "net/url"

// IsValidRedirectURI reports whether uri is acceptable as an OAuth redirect
// target. https is always allowed; plain http only for loopback hosts; any
// other scheme is treated as a native-app custom scheme and must be an
// identifier-like token (no leading digit).
func IsValidRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1"
	default:
		// url.Parse lowercases the scheme and rejects most malformed tokens
		// already; the leading-character check keeps digit-led schemes out.
		c := u.Scheme[0]
		return c >= 'a' && c <= 'z'
	}
}
