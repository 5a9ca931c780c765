// Package validation checks user-supplied URLs and visitor input before they
// reach the network.
//
// Loopback and private hosts are rejected unless SUPPORTSYNC_ALLOW_PRIVATE is
// set (any value strconv.ParseBool accepts) or SetAllowPrivate(true) is
// called. Cloud metadata endpoints are always rejected.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

var allowPrivate atomic.Bool

func init() {
	v, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("SUPPORTSYNC_ALLOW_PRIVATE")))
	allowPrivate.Store(v)
}

// SetAllowPrivate enables or disables loopback and private hosts.
func SetAllowPrivate(enabled bool) {
	allowPrivate.Store(enabled)
}

// AllowPrivateEnabled reports whether loopback and private hosts are allowed.
func AllowPrivateEnabled() bool {
	return allowPrivate.Load()
}

// ValidateBaseURL validates the support API base URL.
func ValidateBaseURL(rawURL string) error {
	return validateURL(rawURL, "http", "https")
}

// ValidateCableURL validates the push endpoint URL. http(s) URLs are accepted
// because the websocket dialer upgrades them.
func ValidateCableURL(rawURL string) error {
	return validateURL(rawURL, "ws", "wss", "http", "https")
}

func validateURL(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	allowed := false
	for _, s := range schemes {
		if parsedURL.Scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid URL scheme: expected one of %s, got %q", strings.Join(schemes, ", "), parsedURL.Scheme)
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must contain a hostname")
	}

	if isCloudMetadata(hostname) {
		return fmt.Errorf("cloud metadata endpoints are not allowed")
	}

	if allowPrivate.Load() {
		return nil
	}

	if isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not allowed (set SUPPORTSYNC_ALLOW_PRIVATE=1 for local servers)")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}
	return nil
}

func isLocalhost(hostname string) bool {
	lowercase := strings.ToLower(hostname)
	switch lowercase {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0", "::":
		return true
	}
	return strings.HasSuffix(lowercase, ".localhost")
}

func isCloudMetadata(hostname string) bool {
	lowercase := strings.ToLower(hostname)
	switch lowercase {
	case "169.254.169.254", "metadata.google.internal", "metadata", "instance-data", "fd00:ec2::254":
		return true
	}
	return strings.HasSuffix(lowercase, ".metadata.google.internal")
}
