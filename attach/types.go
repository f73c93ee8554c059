// CLAUDE:SUMMARY Re-exports the flow and queue types (File, Entry, Summary, Result) as the docattach public API.
// Package attach attaches local files to a process of an SEI-like web
// application by replaying its multi-page upload protocol over HTTP.
//
// A Service owns one remote session, one upload flow and one queue. Files
// are processed strictly one at a time; a file the flow cannot finish ends
// in fallback with a diagnostic and never blocks the rest of the batch.
package attach

import (
	"github.com/hazyhaar/docattach/attach/internal/flow"
	"github.com/hazyhaar/docattach/attach/internal/queue"
)

// Re-export flow and queue types for the public API.
type (
	File        = flow.File
	Result      = flow.Result
	Outcome     = flow.Outcome
	State       = flow.State
	FlowConfig  = flow.Config
	Entry       = queue.Entry
	EntryStatus = queue.Status
	Summary     = queue.Summary
)

const (
	StatusQueued    = queue.StatusQueued
	StatusInFlight  = queue.StatusInFlight
	StatusSucceeded = queue.StatusSucceeded
	StatusFallback  = queue.StatusFallback
)

var (
	ErrEmptyQueue = queue.ErrEmptyQueue
	ErrBusy       = queue.ErrBusy
)

// FileFromPath describes the file at path.
func FileFromPath(path string) (File, error) { return flow.FromPath(path) }

// Status is a point-in-time view of the service.
type Status struct {
	Running   bool     `json:"running"`
	Queued    int      `json:"queued"`
	InFlight  int      `json:"in_flight"`
	Succeeded int      `json:"succeeded"`
	Fallback  int      `json:"fallback"`
	Entries   []Entry  `json:"entries"`
	Last      *Summary `json:"last_batch,omitempty"`
}
