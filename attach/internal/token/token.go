// CLAUDE:SUMMARY Locates the ephemeral upload identifier: parsed form, raw-HTML regex scan, nested frame fetch, then a generated value tagged generated-*.
// Package token resolves the short-lived identifier the binary upload must
// carry. The remote application never exposes it through a stable contract,
// so several strategies are tried in a fixed order.
package token

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/hazyhaar/docattach/attach/internal/page"
	"github.com/hazyhaar/docattach/attach/internal/session"
	"github.com/hazyhaar/docattach/attach/internal/urlguard"
	"github.com/hazyhaar/docattach/horosafe"
	"github.com/hazyhaar/docattach/idgen"
	"github.com/hazyhaar/docattach/kit"
)

// Sources of a Token.
const (
	SourceForm                = "form"
	SourceRegex               = "html-regex"
	SourceFrame               = "iframe"
	SourceGeneratedMissing    = "generated-missing"
	SourceGeneratedFrameError = "generated-frame-error"
)

// Token is a resolved identifier. Value is never empty.
type Token struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Generated reports whether the value was synthesized locally.
func (t Token) Generated() bool {
	return t.Source == SourceGeneratedMissing || t.Source == SourceGeneratedFrameError
}

// Config configures a Resolver.
type Config struct {
	Field     string     // identifier field name. Default: "hdnIdUpload".
	Scope     page.Scope // form to read in fetched frames
	MaxFrames int        // frames fetched before giving up. Default: 3.
}

func (c *Config) defaults() {
	if c.Field == "" {
		c.Field = "hdnIdUpload"
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = 3
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithGenerator sets the generator of synthesized identifiers.
func WithGenerator(g idgen.Generator) Option { return func(r *Resolver) { r.gen = g } }

// Resolver tries the strategies in order: form, html-regex, iframe, generated.
type Resolver struct {
	client   session.Client
	guard    *urlguard.Guard
	cfg      Config
	patterns []*regexp.Regexp
	gen      idgen.Generator
	logger   *slog.Logger
}

// New builds a Resolver. client fetches nested frames; guard vets their URLs.
func New(cfg Config, client session.Client, guard *urlguard.Guard, opts ...Option) *Resolver {
	cfg.defaults()
	r := &Resolver{
		client:   client,
		guard:    guard,
		cfg:      cfg,
		patterns: fieldPatterns(cfg.Field),
		gen:      idgen.NanoID(20),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// fieldPatterns match the field outside a parsed form: as an input in either
// attribute order, or assigned from script.
func fieldPatterns(field string) []*regexp.Regexp {
	f := regexp.QuoteMeta(field)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?is)<input[^>]*?(?:name|id)\s*=\s*["']?` + f + `["'\s][^>]*?value\s*=\s*["']([^"']*)["']`),
		regexp.MustCompile(`(?is)<input[^>]*?value\s*=\s*["']([^"']*)["'][^>]*?(?:name|id)\s*=\s*["']?` + f + `["'\s/>]`),
		regexp.MustCompile(`(?i)` + f + `["']\s*\)\s*\.value\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`(?i)["']?` + f + `["']?\s*[:=]\s*["']([^"']+)["']`),
	}
}

// Resolve never returns an empty value. A generated value means the remote
// page did not carry the identifier and is logged at WARN.
func (r *Resolver) Resolve(ctx context.Context, snap page.Snapshot, baseURL string) Token {
	log := kit.Logger(ctx, r.logger)

	if v, src, ok := r.local(snap); ok {
		return Token{Value: v, Source: src}
	}

	frameErr := false
	frames := page.Parse(snap.RawHTML, baseURL).Frames()
	for i, src := range frames {
		if i >= r.cfg.MaxFrames {
			break
		}
		v, err := r.fromFrame(ctx, src, baseURL)
		if err != nil {
			frameErr = true
			log.WarnContext(ctx, "token: frame fetch failed", "url", src, "error", err)
			continue
		}
		if v != "" {
			return Token{Value: v, Source: SourceFrame}
		}
	}

	source := SourceGeneratedMissing
	if frameErr {
		source = SourceGeneratedFrameError
	}
	t := Token{Value: r.gen(), Source: source}
	if t.Value == "" {
		t.Value = idgen.NanoID(20)()
	}
	log.WarnContext(ctx, "token: upload identifier not found on page, generated locally",
		"source", source, "field", r.cfg.Field, "frames", len(frames))
	return t
}

// local runs the form and regex strategies against one page.
func (r *Resolver) local(snap page.Snapshot) (string, string, bool) {
	if v, ok := snap.Hidden[r.cfg.Field]; ok && horosafe.ValidateIdentifier(v) == nil {
		return v, SourceForm, true
	}
	for _, m := range []map[string]string{snap.Text, snap.Select} {
		if v, ok := m[r.cfg.Field]; ok && horosafe.ValidateIdentifier(v) == nil {
			return v, SourceForm, true
		}
	}
	for _, re := range r.patterns {
		for _, m := range re.FindAllStringSubmatch(snap.RawHTML, -1) {
			if horosafe.ValidateIdentifier(m[1]) == nil {
				return m[1], SourceRegex, true
			}
		}
	}
	return "", "", false
}

func (r *Resolver) fromFrame(ctx context.Context, src, baseURL string) (string, error) {
	target := src
	if r.guard != nil {
		u, err := r.guard.Normalize(src, baseURL)
		if err != nil {
			return "", err
		}
		target = u.String()
	}
	resp, err := r.client.Get(ctx, target)
	if err != nil {
		return "", err
	}
	snap := page.Parse(resp.Text, resp.FinalURL).Snapshot(r.cfg.Scope)
	v, _, _ := r.local(snap)
	return v, nil
}
