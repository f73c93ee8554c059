// CLAUDE:SUMMARY Bootstraps the HTTP session from a real Chrome: connect or launch via rod, stealth page, wait for login, copy cookies into the jar.
// Package browser lends the upload client the session of a logged-in browser.
// The remote application authenticates through an SSO form the client does
// not automate; the operator logs in once and the cookies are copied.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/docattach/attach/internal/urlguard"
)

// ErrNoCookies is returned when the browser holds no cookie for the site.
var ErrNoCookies = errors.New("browser: no cookies for site")

// Options configures ImportCookies.
type Options struct {
	// SiteURL is the page to open, usually the process page.
	SiteURL string
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local Chrome.
	RemoteURL string
	// Headless applies to a launched Chrome only. An interactive login
	// needs a visible window.
	Headless bool
	// LoginPatterns identify the login page. Default: urlguard.DefaultLoginPatterns.
	LoginPatterns []string
	// Timeout bounds the wait for the operator to log in. Default: 5m.
	Timeout time.Duration
	// PollInterval between URL checks. Default: 1s.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if len(o.LoginPatterns) == 0 {
		o.LoginPatterns = urlguard.DefaultLoginPatterns
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ImportCookies opens SiteURL in a stealth tab, waits until the tab shows an
// application page on the same host, and copies the site cookies into jar.
// It returns the number of cookies copied.
func ImportCookies(ctx context.Context, opts Options, jar http.CookieJar) (int, error) {
	opts.defaults()
	log := opts.Logger
	guard, err := urlguard.New(opts.SiteURL, opts.LoginPatterns)
	if err != nil {
		return 0, fmt.Errorf("browser: %w", err)
	}

	b, cleanup, err := connect(opts)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	page, err := stealth.Page(b)
	if err != nil {
		return 0, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := page.Context(waitCtx).Navigate(opts.SiteURL); err != nil {
		return 0, fmt.Errorf("browser: navigate %s: %w", opts.SiteURL, err)
	}
	if err := page.Context(waitCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load", "url", opts.SiteURL, "error", err)
	}

	prompted := false
	for {
		info, err := page.Info()
		if err != nil {
			return 0, fmt.Errorf("browser: page info: %w", err)
		}
		if loggedIn(guard, info.URL) {
			log.Info("browser: session ready", "url", info.URL)
			break
		}
		if !prompted {
			log.Info("browser: waiting for login in the browser window", "url", info.URL, "timeout", opts.Timeout)
			prompted = true
		}
		select {
		case <-waitCtx.Done():
			return 0, fmt.Errorf("browser: waiting for login: %w", waitCtx.Err())
		case <-time.After(opts.PollInterval):
		}
	}

	site := guard.Page()
	raw, err := page.Cookies([]string{site.String()})
	if err != nil {
		return 0, fmt.Errorf("browser: read cookies: %w", err)
	}
	cookies := toHTTPCookies(raw)
	if len(cookies) == 0 {
		return 0, ErrNoCookies
	}
	jar.SetCookies(site, cookies)
	log.Info("browser: cookies imported", "count", len(cookies), "host", site.Host)
	return len(cookies), nil
}

// connect returns a browser handle and the function releasing it. A remote
// Chrome is only disconnected, never closed.
func connect(opts Options) (*rod.Browser, func(), error) {
	if opts.RemoteURL != "" {
		b := rod.New().ControlURL(opts.RemoteURL)
		if err := b.Connect(); err != nil {
			return nil, nil, fmt.Errorf("browser: connect %s: %w", opts.RemoteURL, err)
		}
		opts.Logger.Info("browser: connected to remote", "url", opts.RemoteURL)
		return b, func() {}, nil
	}

	l := launcher.New().Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled")
	wsURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("browser: launch: %w", err)
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}
	opts.Logger.Info("browser: launched local chrome", "headless", opts.Headless)
	return b, func() {
		b.Close()
		l.Cleanup()
	}, nil
}

// loggedIn reports whether raw is an application page: same host as the
// site and not a login page.
func loggedIn(g *urlguard.Guard, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if g.IsLogin(u) {
		return false
	}
	return strings.EqualFold(u.Hostname(), g.Page().Hostname())
}

func toHTTPCookies(raw []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil || c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		// A leading dot marks a domain cookie; anything else stays host-only.
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = strings.TrimPrefix(c.Domain, ".")
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
