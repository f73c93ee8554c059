// CLAUDE:SUMMARY Per-file upload state machine: discover entry, classify, prepare, resolve token, upload binary, save, duplicate confirmation, tree refresh.
// Package flow drives one file through the multi-page upload protocol of the
// remote application.
//
// A Runner holds the shared collaborators. Each Process call builds a private
// run that owns the file's UploadContext and discards it when the run ends,
// so no state leaks from one file to the next.
package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/docattach/attach/internal/classify"
	"github.com/hazyhaar/docattach/attach/internal/page"
	"github.com/hazyhaar/docattach/attach/internal/session"
	"github.com/hazyhaar/docattach/attach/internal/token"
	"github.com/hazyhaar/docattach/attach/internal/urlguard"
	"github.com/hazyhaar/docattach/idgen"
	"github.com/hazyhaar/docattach/kit"
)

// File is one binary to attach.
type File struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Path    string    `json:"path,omitempty"`

	open func() (io.ReadCloser, error)
}

// Open returns the file content.
func (f File) Open() (io.ReadCloser, error) {
	if f.open != nil {
		return f.open()
	}
	if f.Path == "" {
		return nil, fmt.Errorf("flow: file %q has no content", f.Name)
	}
	return os.Open(f.Path)
}

// FromPath describes the file at path.
func FromPath(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("flow: stat %s: %w", path, err)
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("flow: %s is a directory", path)
	}
	return File{Name: filepath.Base(path), Size: st.Size(), ModTime: st.ModTime(), Path: path}, nil
}

// FromBytes describes an in-memory file.
func FromBytes(name string, data []byte, modTime time.Time) File {
	return File{
		Name:    name,
		Size:    int64(len(data)),
		ModTime: modTime,
		open:    func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// Outcome is the terminal result of the save stage.
type Outcome struct {
	Success  bool     `json:"success"`
	FinalURL string   `json:"final_url"`
	Errors   []string `json:"errors,omitempty"`
}

// UploadContext accumulates what each stage learns about the file in flight.
type UploadContext struct {
	EntryURL         string            `json:"entry_url,omitempty"`
	SaveURL          string            `json:"save_url,omitempty"`
	UploadURL        string            `json:"upload_url,omitempty"`
	BaseParams       map[string]string `json:"-"`
	SelectedSeries   page.SeriesOption `json:"series"`
	ClassifiedVia    string            `json:"classified_via,omitempty"`
	ProcessedName    string            `json:"processed_name,omitempty"`
	UploadIdentifier string            `json:"upload_identifier,omitempty"`
	IdentifierSource string            `json:"identifier_source,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	User             string            `json:"user,omitempty"`
	Descriptor       *Descriptor       `json:"descriptor,omitempty"`
	DuplicateURL     string            `json:"duplicate_url,omitempty"`
}

// Result is what Process reports for one file.
type Result struct {
	File       File          `json:"file"`
	State      State         `json:"state"`
	Trail      []State       `json:"trail"`
	Outcome    Outcome       `json:"outcome"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Context    UploadContext `json:"context"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the file was attached.
func (r Result) Succeeded() bool { return r.State.Succeeded() }

// Preflighter checks a file locally before any request is made.
type Preflighter interface {
	Check(name string, size int64, open func() (io.ReadCloser, error)) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithPreflight sets the local file check run before entry discovery.
func WithPreflight(p Preflighter) Option { return func(r *Runner) { r.preflight = p } }

// WithTokenGenerator sets the generator used when no upload identifier is found.
func WithTokenGenerator(g idgen.Generator) Option { return func(r *Runner) { r.tokenGen = g } }

// WithClock sets the time source used for the attachment timestamp.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// Runner processes files one at a time against one remote process.
type Runner struct {
	cfg        Config
	client     session.Client
	guard      *urlguard.Guard
	classifier *classify.Classifier
	resolver   *token.Resolver
	preflight  Preflighter
	tokenGen   idgen.Generator
	now        func() time.Time
	logger     *slog.Logger
}

// NewRunner builds a Runner. cfg.ProcessURL is required.
func NewRunner(cfg Config, client session.Client, opts ...Option) (*Runner, error) {
	cfg.Defaults()
	if cfg.ProcessURL == "" {
		return nil, errors.New("flow: process url is required")
	}
	guard, err := urlguard.New(cfg.ProcessURL, cfg.LoginPatterns)
	if err != nil {
		return nil, err
	}
	cl, err := classify.New(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:        cfg,
		client:     client,
		guard:      guard,
		classifier: cl,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	topts := []token.Option{token.WithLogger(r.logger)}
	if r.tokenGen != nil {
		topts = append(topts, token.WithGenerator(r.tokenGen))
	}
	r.resolver = token.New(token.Config{
		Field: cfg.TokenField,
		Scope: page.Scope{Form: cfg.UploadForm, SeriesField: cfg.SeriesField, HiddenPrefix: cfg.HiddenPrefix},
	}, client, guard, topts...)
	return r, nil
}

// Guard returns the URL guard built from the process URL.
func (r *Runner) Guard() *urlguard.Guard { return r.guard }

// Process runs f through the state machine and returns its terminal result.
// Process never panics on remote content and always ends in TREE_REFRESHED,
// SAVE_FAILED or FALLBACK.
func (r *Runner) Process(ctx context.Context, f File) Result {
	ctx = kit.WithFileID(ctx, f.ID)
	run := &run{
		Runner: r,
		file:   f,
		log:    kit.Logger(ctx, r.logger).With("file", f.Name),
		state:  StatePreflight,
		trail:  []State{StatePreflight},
		uc:     UploadContext{BaseParams: map[string]string{}},
	}
	start := time.Now()
	err := run.execute(ctx)
	res := Result{
		File:     f,
		State:    run.state,
		Trail:    run.trail,
		Outcome:  run.outcome,
		Context:  run.uc,
		Err:      err,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Diagnostic = Diagnose(err)
		if res.Outcome.Errors == nil {
			res.Outcome.Errors = []string{res.Diagnostic}
		}
		run.log.WarnContext(ctx, "flow: file fell back",
			"state", res.State, "diagnostic", res.Diagnostic, "error", err)
	} else {
		run.log.InfoContext(ctx, "flow: file attached",
			"series", run.uc.SelectedSeries.Label, "name", run.uc.ProcessedName,
			"final_url", res.Outcome.FinalURL, "duration_ms", res.Duration.Milliseconds())
	}
	return res
}

// RefreshTree issues the tree-view refresh GET.
func (r *Runner) RefreshTree(ctx context.Context, treeURL string) error {
	if treeURL == "" {
		treeURL = r.cfg.TreeURL
	}
	if treeURL == "" {
		treeURL = r.cfg.ProcessURL
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()
	if _, err := r.client.Get(ctx, treeURL); err != nil {
		return &TransportError{Stage: StateTreeRefreshed, URL: treeURL, Err: err}
	}
	return nil
}

// ReloadProcess reloads the process page so the caller sees server truth.
func (r *Runner) ReloadProcess(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()
	if _, err := r.client.Get(ctx, r.cfg.ProcessURL); err != nil {
		return &TransportError{Stage: StateQueueDrained, URL: r.cfg.ProcessURL, Err: err}
	}
	return nil
}

// run is the private state of one Process call.
type run struct {
	*Runner
	file    File
	log     *slog.Logger
	state   State
	trail   []State
	uc      UploadContext
	outcome Outcome
}

func (x *run) advance(to State) error {
	if !CanTransition(x.state, to) {
		return fmt.Errorf("flow: illegal transition %s -> %s", x.state, to)
	}
	x.log.Debug("flow: transition", "from", x.state, "to", to)
	x.state = to
	x.trail = append(x.trail, to)
	return nil
}

// fail moves to FALLBACK and returns err.
func (x *run) fail(err error) error {
	if x.state != StateFallback && CanTransition(x.state, StateFallback) {
		x.state = StateFallback
		x.trail = append(x.trail, StateFallback)
	}
	return err
}

func (x *run) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, x.cfg.StageTimeout)
}

func (x *run) get(ctx context.Context, stage State, u string) (*session.Response, error) {
	sctx, cancel := x.stageCtx(ctx)
	defer cancel()
	resp, err := x.client.Get(sctx, u)
	return resp, x.transport(stage, u, err)
}

func (x *run) post(ctx context.Context, stage State, u string, body io.Reader, contentType string) (*session.Response, error) {
	sctx, cancel := x.stageCtx(ctx)
	defer cancel()
	resp, err := x.client.Post(sctx, u, body, contentType)
	return resp, x.transport(stage, u, err)
}

// transport wraps client errors. Session expiry stays recognizable through
// errors.Is.
func (x *run) transport(stage State, u string, err error) error {
	if err == nil {
		return nil
	}
	te := &TransportError{Stage: stage, URL: u, Err: err}
	var se *session.StatusError
	if errors.As(err, &se) {
		te.Status = se.Status
	}
	return te
}

func (x *run) scope(form string) page.Scope {
	return page.Scope{Form: form, SeriesField: x.cfg.SeriesField, HiddenPrefix: x.cfg.HiddenPrefix}
}

func (x *run) drift(stage State, want, at string, doc *page.Document) *ProtocolDriftError {
	e := &ProtocolDriftError{Stage: stage, Want: want, URL: at}
	if doc != nil {
		e.Excerpt = doc.Excerpt(x.cfg.ExcerptLen)
	}
	return e
}

// loginPage reports whether a response landed on the login page.
func (x *run) loginPage(resp *session.Response) error {
	if err := x.guard.CheckString(resp.FinalURL); errors.Is(err, urlguard.ErrSessionExpired) {
		return err
	}
	return nil
}

func (x *run) execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return x.fail(err)
	}
	if x.preflight != nil {
		if err := x.preflight.Check(x.file.Name, x.file.Size, x.file.Open); err != nil {
			return x.fail(err)
		}
	}
	if err := x.advance(StateDiscoverEntry); err != nil {
		return x.fail(err)
	}

	doc, err := x.discoverEntry(ctx)
	if err != nil {
		return x.fail(err)
	}

	if doc.Has(x.cfg.TypeForm) {
		if err := x.advance(StateTypeFormObtained); err != nil {
			return x.fail(err)
		}
		if doc, err = x.selectType(ctx, doc); err != nil {
			return x.fail(err)
		}
	} else if err := x.advance(StatePreparePosted); err != nil {
		return x.fail(err)
	}

	prep, err := x.configureUpload(doc)
	if err != nil {
		return x.fail(err)
	}
	if err := x.advance(StateUploadConfigured); err != nil {
		return x.fail(err)
	}

	if err := x.resolveToken(ctx, prep); err != nil {
		return x.fail(err)
	}
	if err := x.advance(StateUploadInProgress); err != nil {
		return x.fail(err)
	}

	desc, err := x.upload(ctx, prep)
	if err != nil {
		return x.fail(err)
	}
	x.uc.Descriptor = &desc
	if err := x.advance(StateSavePosted); err != nil {
		return x.fail(err)
	}

	saved, err := x.save(ctx, prep)
	if err != nil {
		return err
	}

	if dup := x.duplicateLink(saved); dup != "" {
		if err := x.advance(StateDuplicatePending); err != nil {
			return x.fail(err)
		}
		x.resolveDuplicate(ctx, dup)
	}
	if err := x.advance(StateTreeRefreshed); err != nil {
		return x.fail(err)
	}
	x.refreshTree(ctx)
	return nil
}
