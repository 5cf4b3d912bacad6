// Package admission decides, before routing, whether a request needs a
// session. The decision is a pure function of the cleaned path over an
// ordered rule table; the first matching rule wins and unmatched paths are
// protected.
package admission

import (
	"path"
	"strings"
)

type Class int

const (
	ClassProtected Class = iota
	ClassPublicAsset
	ClassPublicAPI
	ClassPublicPage
)

func (c Class) String() string {
	switch c {
	case ClassPublicAsset:
		return "public_asset"
	case ClassPublicAPI:
		return "public_api"
	case ClassPublicPage:
		return "public_page"
	default:
		return "protected"
	}
}

func (c Class) Public() bool {
	return c != ClassProtected
}

type Matcher func(cleanPath string) bool

type Rule struct {
	Name    string
	Matcher Matcher
	Class   Class
}

// Exact matches any of paths verbatim.
func Exact(paths ...string) Matcher {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(p string) bool {
		_, ok := set[p]
		return ok
	}
}

// Prefix matches a prefix on segment boundaries: "/api/debug" matches
// "/api/debug" and "/api/debug/logs" but not "/api/debug-logs".
func Prefix(prefixes ...string) Matcher {
	return func(p string) bool {
		for _, prefix := range prefixes {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
		}
		return false
	}
}

var (
	PublicAssets = []string{"/robots.txt", "/sitemap.xml", "/llms.txt"}

	PublicAPIPrefixes = []string{
		"/api/auth",
		"/api/debug",
		"/api/license/verify",
		"/api/license/update",
		"/api/license/disassociate",
		"/api/statistics",
		"/api/api-keys",
		"/api/poi/sync",
	}

	PublicPages = []string{"/login", "/login/2fa", "/health"}

	// InternalJobPrefixes are called by the scheduler, which carries its own
	// shared secret instead of a session.
	InternalJobPrefixes = []string{"/internal/maintenance"}
)

func DefaultRules() []Rule {
	return []Rule{
		{Name: "public_assets", Matcher: Exact(PublicAssets...), Class: ClassPublicAsset},
		{Name: "public_api", Matcher: Prefix(PublicAPIPrefixes...), Class: ClassPublicAPI},
		{Name: "public_pages", Matcher: Exact(PublicPages...), Class: ClassPublicPage},
		{Name: "internal_jobs", Matcher: Prefix(InternalJobPrefixes...), Class: ClassPublicAPI},
	}
}

// CleanPath normalises a request path before classification so dot segments
// and duplicate slashes cannot move a path across rules.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Classify returns the first rule matching rawPath, or a protected rule
// named "default" when none does.
func Classify(rules []Rule, rawPath string) Rule {
	p := CleanPath(rawPath)
	for _, rule := range rules {
		if rule.Matcher != nil && rule.Matcher(p) {
			return rule
		}
	}
	return Rule{Name: "default", Class: ClassProtected}
}
