package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/docattach/attach/internal/urlguard"
)

// ProtocolDriftError is returned when an expected form, field or link is
// absent from a fetched page: the remote application changed.
type ProtocolDriftError struct {
	Stage   State
	Want    string
	URL     string
	Excerpt string
}

func (e *ProtocolDriftError) Error() string {
	return fmt.Sprintf("flow: %s: %s not found at %s", e.Stage, e.Want, e.URL)
}

// IdentifierResolutionError is returned when the upload identifier could not
// be read from the remote pages.
type IdentifierResolutionError struct {
	Field  string
	Source string
}

func (e *IdentifierResolutionError) Error() string {
	return fmt.Sprintf("flow: upload identifier %s unresolved (%s)", e.Field, e.Source)
}

// TransportError is a network failure or non-2xx status on a stage.
type TransportError struct {
	Stage  State
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("flow: %s: %s: http %d", e.Stage, e.URL, e.Status)
	}
	return fmt.Sprintf("flow: %s: %s: %v", e.Stage, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when the binary upload answers with a
// descriptor carrying fewer than the required fields.
type MalformedResponseError struct {
	Body   string
	Fields int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("flow: malformed upload descriptor (%d fields, want at least %d)", e.Fields, minDescriptorFields)
}

// ValidationError is returned when the save stage's final URL lacks the
// success markers. Banners holds the messages the page displayed.
type ValidationError struct {
	FinalURL string
	Banners  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("flow: save rejected at %s: %s", e.FinalURL, strings.Join(e.Banners, "; "))
}

// DuplicateConflict records a failed duplicate confirmation. It never fails
// the file.
type DuplicateConflict struct {
	URL string
	Err error
}

func (e *DuplicateConflict) Error() string {
	return fmt.Sprintf("flow: duplicate confirmation %s: %v", e.URL, e.Err)
}

func (e *DuplicateConflict) Unwrap() error { return e.Err }

// Diagnose turns a fallback error into the one-line message shown next to
// the file.
func Diagnose(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, urlguard.ErrSessionExpired) {
		return "session expired: login required"
	}

	var drift *ProtocolDriftError
	var ident *IdentifierResolutionError
	var transport *TransportError
	var malformed *MalformedResponseError
	var validation *ValidationError
	switch {
	case errors.As(err, &drift):
		if drift.Stage == StateDiscoverEntry {
			return "entry point not found"
		}
		return fmt.Sprintf("%s not found (%s)", drift.Want, strings.ToLower(string(drift.Stage)))
	case errors.As(err, &ident):
		return fmt.Sprintf("upload identifier unresolved (%s)", ident.Source)
	case errors.As(err, &transport):
		stage := strings.ToLower(string(transport.Stage))
		if errors.Is(transport.Err, context.DeadlineExceeded) {
			return fmt.Sprintf("timeout during %s", stage)
		}
		if errors.Is(transport.Err, urlguard.ErrOffOrigin) {
			return fmt.Sprintf("redirected off origin during %s", stage)
		}
		if transport.Status != 0 {
			return fmt.Sprintf("http %d during %s", transport.Status, stage)
		}
		return fmt.Sprintf("network error during %s: %v", stage, transport.Err)
	case errors.As(err, &malformed):
		return fmt.Sprintf("malformed upload response (%d fields)", malformed.Fields)
	case errors.As(err, &validation):
		if len(validation.Banners) == 0 {
			return "save rejected: no success marker in final URL"
		}
		return "save rejected: " + strings.Join(validation.Banners, "; ")
	}
	return strings.TrimPrefix(err.Error(), "flow: ")
}
