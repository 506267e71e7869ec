package entities

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform selects the default backend address
type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformNative Platform = "native"
)

const (
	// DefaultModel is used until the user picks another model
	DefaultModel = "llama3.2"

	defaultWebBackendURL    = "http://localhost:8000"
	defaultNativeBackendURL = "http://10.0.2.2:8000"
)

// BackendConfig represents the persisted backend settings
type BackendConfig struct {
	BackendURL string `json:"backend_url" yaml:"backend_url"`
	Model      string `json:"model" yaml:"model"`
}

// DefaultBackendURL returns the fallback backend address for a platform.
// Browser-hosted deployments reach the backend on localhost while emulators go
// through the host loopback alias.
func DefaultBackendURL(p Platform) string {
	if p == PlatformWeb {
		return defaultWebBackendURL
	}
	return defaultNativeBackendURL
}

// DefaultBackendConfig returns the configuration used when nothing was saved
func DefaultBackendConfig(p Platform) BackendConfig {
	return BackendConfig{
		BackendURL: DefaultBackendURL(p),
		Model:      DefaultModel,
	}
}

// NormalizeBackendURL trims raw and checks it is an absolute http(s) URL
func NormalizeBackendURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return strings.TrimRight(raw, "/"), nil
}

// ParsePlatform parses a platform name. Anything that is not "web" selects
// the native defaults.
func ParsePlatform(s string) Platform {
	if Platform(strings.ToLower(strings.TrimSpace(s))) == PlatformWeb {
		return PlatformWeb
	}
	return PlatformNative
}
