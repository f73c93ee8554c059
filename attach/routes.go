// CLAUDE:SUMMARY chi status surface: health, queue view and enqueue, batch start, journal outcomes.
package attach

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// errOutsideRoot is returned when an API enqueue names a path outside
// api.upload_root.
var errOutsideRoot = errors.New("path outside upload root")

// Routes returns the status HTTP surface:
//
//	GET  /health        liveness
//	GET  /api/queue     Status
//	POST /api/queue     {"paths": [...]} enqueue files and directories under api.upload_root
//	POST /api/run       start a batch in the background
//	GET  /api/outcomes  ?batch=&limit= terminal entries, newest first
//
// Every /api route needs "Authorization: Bearer <api.token>".
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(s.cfg.API.Token))

		r.Get("/queue", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Status())
		})

		r.Post("/queue", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Paths []string `json:"paths"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if len(req.Paths) == 0 {
				writeError(w, http.StatusBadRequest, errors.New("paths is required"))
				return
			}
			paths, err := confine(s.cfg.API.UploadRoot, req.Paths)
			if err != nil {
				writeError(w, http.StatusForbidden, err)
				return
			}
			entries, err := s.EnqueuePaths(paths...)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusCreated, entries)
		})

		r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
			st := s.Status()
			if st.Running {
				writeError(w, http.StatusConflict, ErrBusy)
				return
			}
			if st.Queued == 0 {
				writeError(w, http.StatusBadRequest, ErrEmptyQueue)
				return
			}
			s.runBackground(context.WithoutCancel(r.Context()))
			writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "queued": st.Queued})
		})

		r.Get("/outcomes", func(w http.ResponseWriter, r *http.Request) {
			out, err := s.Outcomes(r.Context(), r.URL.Query().Get("batch"), queryInt(r, "limit", 0))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if out == nil {
				out = []Entry{}
			}
			writeJSON(w, http.StatusOK, out)
		})
	})
	return r
}

// requireToken rejects requests without the bearer token. An empty token
// closes the routes entirely.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var got string
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				got = h[7:]
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// confine resolves paths (symlinks included) and rejects any that leave
// root. The resolved paths are returned.
func confine(root string, paths []string) ([]string, error) {
	if root == "" {
		return nil, errors.New("api.upload_root is not configured")
	}
	base, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("upload root: %w", err)
	}
	if base, err = filepath.Abs(base); err != nil {
		return nil, fmt.Errorf("upload root: %w", err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return nil, err
		}
		if resolved, err = filepath.Abs(resolved); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%s: %w", p, errOutsideRoot)
		}
		out = append(out, resolved)
	}
	return out, nil
}

// runBackground starts a batch detached from the caller.
func (s *Service) runBackground(ctx context.Context) {
	go func() {
		if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrBusy) {
			s.logger.Warn("attach: background batch", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
