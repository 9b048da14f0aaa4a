// Package device derives a display name and a stable fingerprint from a
// User-Agent. Fingerprints bind a verification session to the browser that
// opened it.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// Service computes fingerprints when device binding is enabled.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Enabled reports whether fingerprints are computed.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// ComputeFingerprint hashes the browser family, its major version, the OS and
// the platform. Minor browser updates keep the fingerprint; a major upgrade or
// a different OS changes it. Returns "" when binding is disabled.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.Enabled() {
		return ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	parts := []string{
		name,
		major,
		ua.OSInfo().Name,
		ua.Platform(),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether current matches stored, and whether the
// difference should be treated as drift. An empty stored fingerprint means
// the session was never bound.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	if stored == "" {
		return true, false
	}
	if stored == current {
		return true, false
	}
	return false, true
}

// ParseUserAgent returns a short display name such as "Chrome on Mac OS X".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return unknownDevice
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	browser = strings.TrimSpace(browser)
	if browser == "" {
		browser = "Unknown Browser"
	}
	osName := strings.TrimSpace(ua.OSInfo().Name)
	if platform := strings.TrimSpace(ua.Platform()); ua.Mobile() && platform != "" {
		osName = platform
	}
	if osName == "" {
		osName = "Unknown OS"
	}
	return browser + " on " + osName
}
