// Package classify assigns every intercepted request to exactly one
// resource class. Classification is a pure function over the request and a
// fixed rule set, so it is testable independently of any caching strategy.
package classify

import (
	"net/http"
	"regexp"
	"strings"
)

// ResourceClass is the closed set of categories a request can fall into.
// Each class maps to exactly one caching strategy.
type ResourceClass int

const (
	// Static app-shell URLs precached at install: cache-first.
	Static ResourceClass = iota
	// Image assets by extension or trusted host: cache-first with placeholder fallback.
	Image
	// Data endpoints: network-first with cache fallback.
	API
	// Full-page loads: network-first with offline page fallback.
	Navigation
	// Everything else: stale-while-revalidate.
	Other
)

func (c ResourceClass) String() string {
	switch c {
	case Static:
		return "static"
	case Image:
		return "image"
	case API:
		return "api"
	case Navigation:
		return "navigation"
	default:
		return "other"
	}
}

var imageExtPattern = regexp.MustCompile(`\.(?:png|jpg|jpeg|svg|gif|webp)$`)

// Rules holds the classification inputs: the static asset manifest, the
// trusted remote image hosts, and the API path prefixes.
type Rules struct {
	staticAssets map[string]bool
	imageHosts   []string
	apiPrefixes  []string
}

// NewRules builds a rule set. staticAssets are exact root-relative paths;
// imageHosts are host suffixes (e.g. "pinimg.com"); apiPrefixes are path
// prefixes (e.g. "/api/products").
func NewRules(staticAssets, imageHosts, apiPrefixes []string) Rules {
	set := make(map[string]bool, len(staticAssets))
	for _, a := range staticAssets {
		set[a] = true
	}
	return Rules{
		staticAssets: set,
		imageHosts:   imageHosts,
		apiPrefixes:  apiPrefixes,
	}
}

// Classify assigns r to a resource class. Rule precedence mirrors strategy
// priority: static manifest match, then image patterns, then API prefixes,
// then navigation, then the default bucket.
func (rules Rules) Classify(r *http.Request) ResourceClass {
	path := r.URL.Path

	if rules.staticAssets[path] {
		return Static
	}

	if imageExtPattern.MatchString(path) || rules.trustedImageHost(r.URL.Host) {
		return Image
	}

	for _, prefix := range rules.apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return API
		}
	}

	if isNavigation(r) {
		return Navigation
	}

	return Other
}

func (rules Rules) trustedImageHost(host string) bool {
	for _, h := range rules.imageHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// isNavigation reports whether the request is a full-page load rather than
// a sub-resource fetch. Browsers send Sec-Fetch-Mode: navigate; for clients
// that don't, an HTML Accept header on a GET is the fallback signal.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
