// CLAUDE:SUMMARY Service facade: wires session client, upload flow, preflight, queue and journal; exposes enqueue/run/status/outcomes and browser session import.
package attach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/docattach/attach/internal/browser"
	"github.com/hazyhaar/docattach/attach/internal/flow"
	"github.com/hazyhaar/docattach/attach/internal/journal"
	"github.com/hazyhaar/docattach/attach/internal/preflight"
	"github.com/hazyhaar/docattach/attach/internal/queue"
	"github.com/hazyhaar/docattach/attach/internal/session"
	"github.com/hazyhaar/docattach/attach/internal/urlguard"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	jar       http.CookieJar
	db        *sql.DB
	onEntry   func(context.Context, Entry)
	onDrained func(context.Context, Summary) bool
	now       func() time.Time
}

// WithTransport sets the HTTP round tripper of the session client.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// WithCookieJar shares an existing cookie jar with the session client.
func WithCookieJar(j http.CookieJar) Option { return func(o *options) { o.jar = j } }

// WithJournalDB records outcomes in db instead of the configured path. The
// caller keeps ownership of db.
func WithJournalDB(db *sql.DB) Option { return func(o *options) { o.db = db } }

// OnEntry is called after each file reaches a terminal status.
func OnEntry(fn func(context.Context, Entry)) Option { return func(o *options) { o.onEntry = fn } }

// OnDrained is called once per drained batch after the tree refresh.
// Returning true consumes the completion signal and suppresses the process
// page reload.
func OnDrained(fn func(context.Context, Summary) bool) Option {
	return func(o *options) { o.onDrained = fn }
}

// WithClock sets the time source of the attachment timestamp.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Service attaches files to one remote process.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	client  *session.HTTP
	runner  *flow.Runner
	queue   *queue.Coordinator
	journal *journal.Journal
	ownsDB  bool

	mu   sync.Mutex
	last *Summary
}

// New wires a Service. A nil logger means slog.Default().
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	guard, err := urlguard.New(cfg.Protocol.ProcessURL, cfg.Protocol.LoginPatterns)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	sopts := []session.Option{session.WithLogger(logger)}
	if o.transport != nil {
		sopts = append(sopts, session.WithTransport(o.transport))
	}
	if o.jar != nil {
		sopts = append(sopts, session.WithJar(o.jar))
	}
	client, err := session.New(cfg.HTTP, guard, sopts...)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	seedCookies(client.Jar(), guard.Page(), cfg.Cookies)

	fopts := []flow.Option{
		flow.WithLogger(logger),
		flow.WithPreflight(preflight.New(cfg.Preflight, logger)),
	}
	if o.now != nil {
		fopts = append(fopts, flow.WithClock(o.now))
	}
	runner, err := flow.NewRunner(cfg.Protocol, client, fopts...)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}

	s := &Service{cfg: cfg, logger: logger, client: client, runner: runner}

	switch {
	case o.db != nil:
		if s.journal, err = journal.New(o.db); err != nil {
			return nil, err
		}
	case cfg.Journal != "":
		if s.journal, err = journal.Open(cfg.Journal); err != nil {
			return nil, err
		}
		s.ownsDB = true
	}

	qopts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithHooks(queue.Hooks{OnEntry: o.onEntry, OnDrained: o.onDrained}),
	}
	if s.journal != nil {
		qopts = append(qopts, queue.WithRecorder(s.journal))
	}
	s.queue = queue.New(runner, qopts...)
	return s, nil
}

func seedCookies(jar http.CookieJar, site *url.URL, cookies map[string]string) {
	if len(cookies) == 0 {
		return
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, &http.Cookie{Name: name, Value: cookies[name], Path: "/"})
	}
	jar.SetCookies(site, out)
}

// Close releases the journal if the Service opened it.
func (s *Service) Close() error {
	if s.journal != nil && s.ownsDB {
		return s.journal.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Enqueue appends files to the queue in order.
func (s *Service) Enqueue(files ...File) []Entry {
	return s.queue.Enqueue(files...)
}

// EnqueueBytes queues an in-memory file.
func (s *Service) EnqueueBytes(name string, data []byte, modTime time.Time) Entry {
	return s.queue.Enqueue(flow.FromBytes(name, data, modTime))[0]
}

// EnqueuePaths queues files and the regular files found under directories.
// Directory contents are queued in lexical order; hidden files are skipped.
// Nothing is queued if any path is unreadable.
func (s *Service) EnqueuePaths(paths ...string) ([]Entry, error) {
	var files []File
	for _, p := range paths {
		found, err := collect(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("attach: no files in %s", strings.Join(paths, ", "))
	}
	return s.queue.Enqueue(files...), nil
}

func collect(root string) ([]File, error) {
	f, err := flow.FromPath(root)
	if err == nil {
		return []File{f}, nil
	}
	var out []File
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := flow.FromPath(path)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("attach: %s: %w", root, walkErr)
	}
	return out, nil
}

// Run processes the queue until it drains. See queue.Coordinator.Run.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	sum, err := s.queue.Run(ctx)
	if err == nil || sum.Total > 0 {
		s.mu.Lock()
		s.last = &sum
		s.mu.Unlock()
	}
	return sum, err
}

// Status returns the queue and the last batch summary.
func (s *Service) Status() Status {
	entries := s.queue.Snapshot()
	st := Status{Running: s.queue.Running(), Entries: entries}
	for _, e := range entries {
		switch e.Status {
		case StatusQueued:
			st.Queued++
		case StatusInFlight:
			st.InFlight++
		case StatusSucceeded:
			st.Succeeded++
		case StatusFallback:
			st.Fallback++
		}
	}
	s.mu.Lock()
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	s.mu.Unlock()
	return st
}

// Outcomes lists terminal entries, newest first. Without a journal it
// reads the in-memory queue.
func (s *Service) Outcomes(ctx context.Context, batchID string, limit int) ([]Entry, error) {
	if s.journal != nil {
		return s.journal.List(ctx, batchID, limit)
	}
	if limit <= 0 {
		limit = journal.DefaultLimit
	}
	entries := s.queue.Snapshot()
	var out []Entry
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := entries[i]
		if e.Status != StatusSucceeded && e.Status != StatusFallback {
			continue
		}
		if batchID != "" && e.BatchID != batchID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ImportBrowserSession copies the cookies of a logged-in Chrome into the
// session jar. It returns the number of cookies imported.
func (s *Service) ImportBrowserSession(ctx context.Context) (int, error) {
	n, err := browser.ImportCookies(ctx, browser.Options{
		SiteURL:       s.cfg.Protocol.ProcessURL,
		RemoteURL:     s.cfg.Browser.RemoteURL,
		Headless:      s.cfg.Browser.Headless,
		LoginPatterns: s.cfg.Protocol.LoginPatterns,
		Timeout:       s.cfg.Browser.LoginTimeout,
		Logger:        s.logger,
	}, s.client.Jar())
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("attach: browser session import failed", "error", err)
	}
	return n, err
}
