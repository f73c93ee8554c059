// CLAUDE:SUMMARY Resolves scraped hrefs against a base, upgrades http to https on secure pages, rejects off-origin and login-redirect targets.
// Package urlguard normalizes links lifted out of remote pages and decides
// whether the upload flow may follow them.
package urlguard

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/hazyhaar/docattach/horosafe"
)

var (
	// ErrOffOrigin is returned when a link resolves to another host than the
	// page the flow started from.
	ErrOffOrigin = errors.New("urlguard: link leaves the application origin")
	// ErrSessionExpired is returned when a link or redirect points at the
	// login page. The remote session is gone and must not be followed silently.
	ErrSessionExpired = errors.New("urlguard: session expired: login required")
)

// DefaultLoginPatterns match the login entry points of the SEI family.
var DefaultLoginPatterns = []string{"login.php", "acao=infra_login", "sip/login"}

// Guard holds the origin of the hosting page.
type Guard struct {
	page  *url.URL
	login []string
}

// New builds a Guard for the page at pageURL. An empty loginPatterns uses
// DefaultLoginPatterns.
func New(pageURL string, loginPatterns []string) (*Guard, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil, fmt.Errorf("urlguard: parse page url: %w", err)
	}
	if err := horosafe.ValidateScheme(u); err != nil {
		return nil, fmt.Errorf("urlguard: page url: %w", err)
	}
	if len(loginPatterns) == 0 {
		loginPatterns = DefaultLoginPatterns
	}
	login := make([]string, 0, len(loginPatterns))
	for _, p := range loginPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			login = append(login, p)
		}
	}
	return &Guard{page: u, login: login}, nil
}

// Page returns the hosting page URL.
func (g *Guard) Page() *url.URL {
	u := *g.page
	return &u
}

// Secure reports whether the hosting page is served over https.
func (g *Guard) Secure() bool { return strings.EqualFold(g.page.Scheme, "https") }

// Normalize resolves href against base (the hosting page when base is
// empty), drops the fragment, upgrades the scheme when the hosting page is
// secure, then applies Check.
func (g *Guard) Normalize(href, base string) (*url.URL, error) {
	href = html.UnescapeString(strings.TrimSpace(href))
	if href == "" {
		return nil, fmt.Errorf("urlguard: empty link")
	}
	baseURL := g.page
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("urlguard: parse base %q: %w", base, err)
		}
		baseURL = g.page.ResolveReference(b)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("urlguard: parse link %q: %w", href, err)
	}
	u := baseURL.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	if err := horosafe.ValidateScheme(u); err != nil {
		return nil, fmt.Errorf("urlguard: %s: %w", href, err)
	}
	if g.Secure() && strings.EqualFold(u.Scheme, "http") {
		u.Scheme = "https"
		if u.Port() == "80" {
			u.Host = u.Hostname()
		}
	}
	if err := g.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Check rejects login targets first, so a single-sign-on redirect to another
// host still reads as an expired session, then off-origin targets.
func (g *Guard) Check(u *url.URL) error {
	if g.IsLogin(u) {
		return fmt.Errorf("%w (%s)", ErrSessionExpired, u.Redacted())
	}
	if !strings.EqualFold(u.Hostname(), g.page.Hostname()) {
		return fmt.Errorf("%w: %s", ErrOffOrigin, u.Hostname())
	}
	return nil
}

// IsLogin reports whether u matches one of the login patterns.
func (g *Guard) IsLogin(u *url.URL) bool {
	target := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
	for _, p := range g.login {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// CheckString parses raw and applies Check. It is the shape the session
// client needs for redirect hops.
func (g *Guard) CheckString(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("urlguard: parse %q: %w", raw, err)
	}
	return g.Check(u)
}
