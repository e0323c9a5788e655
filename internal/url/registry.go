package url

import (
	neturl "net/url"
	"strings"
	"sync"
)

// Opener constructs a backend URL from its raw textual form.
type Opener func(raw string, mode Mode) (URL, error)

// Global registry of URL schemes.
var (
	registry   = make(map[string]Opener)
	registryMu sync.RWMutex
)

// RegisterScheme adds a scheme to the global registry. This is typically
// called from backend init() functions. An existing scheme is replaced.
func RegisterScheme(scheme string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = open
}

// Parse parses a URL string and returns the backend URL for its scheme.
// A string with no scheme is treated as a local file path.
func Parse(raw string, mode Mode) (URL, error) {
	scheme := schemeOf(raw)

	registryMu.RLock()
	open, ok := registry[scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, Error.New("unsupported URL scheme: %q", scheme)
	}
	return open(raw, mode)
}

// MustParse is Parse for statically known URLs; it panics on error.
func MustParse(raw string, mode Mode) URL {
	u, err := Parse(raw, mode)
	if err != nil {
		panic(err)
	}
	return u
}

// schemeOf extracts the scheme, mapping bare paths to "file". net/url treats
// single-letter prefixes like "C:" as schemes, and glob characters can make
// parsing fail outright, so fall back to file for anything ambiguous.
func schemeOf(raw string) string {
	if !strings.Contains(raw, "://") {
		return "file"
	}
	parsed, err := neturl.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return "file"
	}
	return parsed.Scheme
}
