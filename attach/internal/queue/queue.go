// CLAUDE:SUMMARY Batch coordinator: strictly sequential per-file processing, fallback never blocks the batch, exactly one drain signal (tree refresh then hook or reload).
// Package queue holds the ordered list of files waiting to be attached and
// feeds them one at a time to the upload flow.
//
// Parallelism is fixed at one: the remote application binds upload
// identifiers to a single active form session.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docattach/attach/internal/flow"
	"github.com/hazyhaar/docattach/idgen"
	"github.com/hazyhaar/docattach/kit"
)

var (
	// ErrEmptyQueue is returned by Run when no file is queued. Nothing is
	// requested from the remote application.
	ErrEmptyQueue = errors.New("queue: no queued files")
	// ErrBusy is returned by Run while another batch is running.
	ErrBusy = errors.New("queue: a batch is already running")
)

// Status is the lifecycle of a queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInFlight  Status = "in-flight"
	StatusSucceeded Status = "succeeded"
	StatusFallback  Status = "fallback"
)

// Entry is a file plus its lifecycle status.
type Entry struct {
	ID               string       `json:"id"`
	BatchID          string       `json:"batch_id,omitempty"`
	Name             string       `json:"name"`
	Size             int64        `json:"size"`
	Status           Status       `json:"status"`
	State            flow.State   `json:"state,omitempty"`
	Diagnostic       string       `json:"diagnostic,omitempty"`
	Outcome          flow.Outcome `json:"outcome"`
	Series           string       `json:"series,omitempty"`
	ProcessedName    string       `json:"processed_name,omitempty"`
	IdentifierSource string       `json:"identifier_source,omitempty"`
	EnqueuedAt       time.Time    `json:"enqueued_at"`
	StartedAt        time.Time    `json:"started_at,omitempty"`
	FinishedAt       time.Time    `json:"finished_at,omitempty"`

	file flow.File
}

// Summary describes one drained batch.
type Summary struct {
	BatchID   string    `json:"batch_id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Fallback  int       `json:"fallback"`
	Entries   []Entry   `json:"entries"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Reloaded  bool      `json:"reloaded"`
}

// Processor runs one file through the upload flow. *flow.Runner implements it.
type Processor interface {
	Process(ctx context.Context, f flow.File) flow.Result
	RefreshTree(ctx context.Context, treeURL string) error
	ReloadProcess(ctx context.Context) error
}

// Recorder receives every entry that reached a terminal status.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Hooks are optional callbacks.
type Hooks struct {
	// OnEntry is called after each file reaches a terminal status.
	OnEntry func(ctx context.Context, e Entry)
	// OnDrained is called once per drained batch, after the tree refresh.
	// Returning true consumes the signal; otherwise the process page is
	// reloaded.
	OnDrained func(ctx context.Context, s Summary) bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithRecorder sets the terminal-entry recorder.
func WithRecorder(r Recorder) Option { return func(c *Coordinator) { c.recorder = r } }

// WithHooks sets the callbacks.
func WithHooks(h Hooks) Option { return func(c *Coordinator) { c.hooks = h } }

// WithIDGenerator sets the generator for entry and batch identifiers.
func WithIDGenerator(g idgen.Generator) Option { return func(c *Coordinator) { c.gen = g } }

// Coordinator owns the queue.
type Coordinator struct {
	proc     Processor
	recorder Recorder
	hooks    Hooks
	gen      idgen.Generator
	entryID  idgen.Generator
	batchID  idgen.Generator
	logger   *slog.Logger

	mu      sync.Mutex
	entries []*Entry
	running bool
}

// New builds a Coordinator around proc.
func New(proc Processor, opts ...Option) *Coordinator {
	c := &Coordinator{proc: proc, gen: idgen.Default, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.entryID = idgen.Prefixed("ent_", c.gen)
	c.batchID = idgen.Prefixed("bat_", c.gen)
	return c
}

// Enqueue appends files in order and returns their entries.
func (c *Coordinator) Enqueue(files ...flow.File) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(files))
	now := time.Now()
	for _, f := range files {
		if f.ID == "" {
			f.ID = c.entryID()
		}
		e := &Entry{ID: f.ID, Name: f.Name, Size: f.Size, Status: StatusQueued, EnqueuedAt: now, file: f}
		c.entries = append(c.entries, e)
		out = append(out, *e)
	}
	return out
}

// Snapshot returns a copy of every entry, in queue order.
func (c *Coordinator) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Running reports whether a batch is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) next() *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Status == StatusQueued {
			return e
		}
	}
	return nil
}

func (c *Coordinator) set(e *Entry, fn func(*Entry)) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(e)
	return *e
}

// Run processes queued files one at a time until none remain, including
// files enqueued while the batch runs. Every file ends succeeded or
// fallback; a fallback never stops the batch. When the queue drains, the
// tree is refreshed and exactly one completion signal is emitted.
//
// If ctx is cancelled, Run returns ctx.Err(): the interrupted file and the
// remaining ones stay queued and no completion signal is sent.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Summary{}, ErrBusy
	}
	queued := 0
	for _, e := range c.entries {
		if e.Status == StatusQueued {
			queued++
		}
	}
	if queued == 0 {
		c.mu.Unlock()
		return Summary{}, ErrEmptyQueue
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	sum := Summary{BatchID: c.batchID(), Started: time.Now()}
	ctx = kit.WithBatchID(ctx, sum.BatchID)
	log := kit.Logger(ctx, c.logger)
	log.InfoContext(ctx, "queue: batch started", "queued", queued)

	for {
		if err := ctx.Err(); err != nil {
			log.WarnContext(ctx, "queue: batch interrupted", "processed", sum.Total, "error", err)
			return sum, err
		}
		e := c.next()
		if e == nil {
			break
		}
		c.set(e, func(e *Entry) {
			e.Status = StatusInFlight
			e.BatchID = sum.BatchID
			e.StartedAt = time.Now()
		})

		res := c.proc.Process(ctx, e.file)

		if ctx.Err() != nil && !res.Succeeded() {
			c.set(e, func(e *Entry) { e.Status = StatusQueued })
			log.WarnContext(ctx, "queue: batch interrupted", "processed", sum.Total, "error", ctx.Err())
			return sum, ctx.Err()
		}

		done := c.set(e, func(e *Entry) { finish(e, res) })
		sum.Total++
		if done.Status == StatusSucceeded {
			sum.Succeeded++
		} else {
			sum.Fallback++
		}
		sum.Entries = append(sum.Entries, done)

		if c.recorder != nil {
			if err := c.recorder.Record(ctx, done); err != nil {
				log.WarnContext(ctx, "queue: record outcome", "entry", done.ID, "error", err)
			}
		}
		if c.hooks.OnEntry != nil {
			c.hooks.OnEntry(ctx, done)
		}
	}

	c.drained(ctx, &sum)
	log.InfoContext(ctx, "queue: batch drained",
		"total", sum.Total, "succeeded", sum.Succeeded, "fallback", sum.Fallback, "reloaded", sum.Reloaded)
	return sum, nil
}

func finish(e *Entry, res flow.Result) {
	e.FinishedAt = time.Now()
	e.State = res.State
	e.Outcome = res.Outcome
	e.Diagnostic = res.Diagnostic
	e.Series = res.Context.SelectedSeries.Label
	e.ProcessedName = res.Context.ProcessedName
	e.IdentifierSource = res.Context.IdentifierSource
	if res.Succeeded() {
		e.Status = StatusSucceeded
		return
	}
	e.Status = StatusFallback
	if e.Diagnostic == "" {
		e.Diagnostic = "upload did not complete"
	}
}

// drained emits the single completion signal of a batch.
func (c *Coordinator) drained(ctx context.Context, sum *Summary) {
	log := kit.Logger(ctx, c.logger)
	sum.Finished = time.Now()
	if err := c.proc.RefreshTree(ctx, ""); err != nil {
		log.WarnContext(ctx, "queue: tree refresh failed", "error", err)
	}
	if c.hooks.OnDrained != nil && c.hooks.OnDrained(ctx, *sum) {
		return
	}
	if err := c.proc.ReloadProcess(ctx); err != nil {
		log.WarnContext(ctx, "queue: reload failed", "error", err)
	}
	sum.Reloaded = true
}
