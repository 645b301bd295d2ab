package utils

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBridgeURL takes various user-friendly bridge inputs and converts
// them into a WebSocket URL.
// Examples:
//   - "wss://bridge.example.com"   -> unchanged
//   - "ws://localhost:5001"        -> unchanged
//   - "https://bridge.example.com" -> "wss://bridge.example.com"
//   - "http://localhost:5001/"     -> "ws://localhost:5001/"
//   - "bridge.example.com"         -> "wss://bridge.example.com"
func NormalizeBridgeURL(raw string) (string, error) {
	server := strings.TrimSpace(raw)
	if server == "" {
		return "", errors.New("bridge url is empty")
	}

	if !strings.Contains(server, "://") {
		server = "wss://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid bridge url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid bridge url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid bridge url %q: missing host", raw)
	}
	return u.String(), nil
}

// BridgeHTTPURL maps a bridge URL back to its http(s) form, which is the form
// embedded in connection URIs.
func BridgeHTTPURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Replace(s, "wss://", "https://", 1)
	s = strings.Replace(s, "ws://", "http://", 1)
	return s
}

// IsHexString reports whether s contains only hexadecimal characters.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
