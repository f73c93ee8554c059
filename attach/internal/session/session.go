// CLAUDE:SUMMARY Session-preserving HTTP client: cookie jar, guarded redirects, bounded reads, charset decoding, final URL reporting.
// Package session is the HTTP client of the upload flow. It keeps the remote
// application's session cookies across requests, checks every redirect hop
// against the URL guard and reports the final URL, which is the only
// reliable success signal of the save stage.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/docattach/attach/internal/urlguard"
	"github.com/hazyhaar/docattach/horosafe"
)

// Response is a fetched page, decoded to UTF-8.
type Response struct {
	Text     string
	FinalURL string
	Status   int
}

// Client is what the flow needs from HTTP.
type Client interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
	Post(ctx context.Context, rawURL string, body io.Reader, contentType string) (*Response, error)
}

// StatusError is returned for non-2xx responses after redirects. The
// Response is returned alongside it so callers can still read the page.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("session: %s: http %d", e.URL, e.Status)
}

// Config configures the HTTP client.
type Config struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`             // whole-request cap. Default: 2m.
	MaxBytes     int64         `yaml:"max_bytes" json:"max_bytes"`         // response body cap. Default: horosafe.MaxResponseBody.
	MaxRedirects int           `yaml:"max_redirects" json:"max_redirects"` // Default: 10.
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxResponseBody
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) docattach/1.0"
	}
}

// Option configures an HTTP client.
type Option func(*HTTP)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *HTTP) { h.logger = l }
}

// WithJar replaces the cookie jar, e.g. to share one imported from a browser.
func WithJar(j http.CookieJar) Option {
	return func(h *HTTP) { h.jar = j }
}

// WithTransport sets the round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(h *HTTP) { h.transport = rt }
}

// HTTP is the net/http implementation of Client.
type HTTP struct {
	client    *http.Client
	jar       http.CookieJar
	transport http.RoundTripper
	guard     *urlguard.Guard
	cfg       Config
	logger    *slog.Logger
}

// New builds a client. guard checks the target of every request and every
// redirect hop; it may be nil only in tests.
func New(cfg Config, guard *urlguard.Guard, opts ...Option) (*HTTP, error) {
	cfg.defaults()
	h := &HTTP{guard: guard, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	if h.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("session: cookie jar: %w", err)
		}
		h.jar = jar
	}
	h.client = &http.Client{
		Jar:       h.jar,
		Timeout:   cfg.Timeout,
		Transport: h.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("session: too many redirects (%d)", len(via))
			}
			if h.guard != nil {
				if err := h.guard.Check(req.URL); err != nil {
					return fmt.Errorf("session: redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
	return h, nil
}

// Jar returns the cookie jar holding the remote session.
func (h *HTTP) Jar() http.CookieJar { return h.jar }

// Get fetches rawURL.
func (h *HTTP) Get(ctx context.Context, rawURL string) (*Response, error) {
	return h.do(ctx, http.MethodGet, rawURL, nil, "")
}

// Post submits body to rawURL with the given content type.
func (h *HTTP) Post(ctx context.Context, rawURL string, body io.Reader, contentType string) (*Response, error) {
	return h.do(ctx, http.MethodPost, rawURL, body, contentType)
}

func (h *HTTP) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*Response, error) {
	if h.guard != nil {
		if err := h.guard.CheckString(rawURL); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("session: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, h.cfg.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", rawURL, err)
	}
	text, err := decode(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", rawURL, err)
	}

	out := &Response{Text: text, FinalURL: resp.Request.URL.String(), Status: resp.StatusCode}
	h.logger.DebugContext(ctx, "session: request",
		"method", method,
		"url", rawURL,
		"final_url", out.FinalURL,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{URL: out.FinalURL, Status: resp.StatusCode}
	}
	return out, nil
}

// decode converts body to UTF-8 using the Content-Type header, a BOM or a
// <meta charset> declaration, in that order.
func decode(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// Unknown label: keep the bytes as they are.
		return string(body), nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
