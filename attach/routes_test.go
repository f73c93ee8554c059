package attach

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func doJSON(t *testing.T, h http.Handler, method, path, body string, out any) int {
	t.Helper()
	return doJSONAs(t, h, testToken, method, path, body, out)
}

func doJSONAs(t *testing.T, h http.Handler, token, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestRoutes(t *testing.T) {
	// WHAT: Enqueue, run and inspect a batch over the status surface.
	// WHY: The HTTP routes are how a supervisor drives a long batch.
	s := newSEI(t)
	dir := writeFiles(t, map[string]string{"Oficio_1.txt": "um", "Oficio_2.txt": "dois"})
	cfg := testConfig(s)
	cfg.API.UploadRoot = dir
	svc, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	h := svc.Routes()

	var health map[string]string
	if code := doJSON(t, h, "GET", "/health", "", &health); code != 200 || health["status"] != "ok" {
		t.Fatalf("health: %d %v", code, health)
	}

	var e map[string]string
	if code := doJSON(t, h, "POST", "/api/run", "", &e); code != http.StatusBadRequest || !strings.Contains(e["error"], "no queued files") {
		t.Errorf("run on empty queue: %d %v", code, e)
	}
	if code := doJSON(t, h, "POST", "/api/queue", `{"paths":[]}`, nil); code != http.StatusBadRequest {
		t.Errorf("enqueue without paths: %d", code)
	}
	if code := doJSON(t, h, "POST", "/api/queue", `not json`, nil); code != http.StatusBadRequest {
		t.Errorf("enqueue bad json: %d", code)
	}

	body, _ := json.Marshal(map[string]any{"paths": []string{dir}})
	var entries []Entry
	if code := doJSON(t, h, "POST", "/api/queue", string(body), &entries); code != http.StatusCreated || len(entries) != 2 {
		t.Fatalf("enqueue: %d %+v", code, entries)
	}

	var st Status
	doJSON(t, h, "GET", "/api/queue", "", &st)
	if st.Queued != 2 {
		t.Errorf("queued: got %d", st.Queued)
	}

	var started map[string]any
	if code := doJSON(t, h, "POST", "/api/run", "", &started); code != http.StatusAccepted {
		t.Fatalf("run: %d %v", code, started)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		st = svc.Status()
		if !st.Running && st.Queued == 0 && st.InFlight == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch did not drain: %+v", st)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st.Succeeded != 2 {
		t.Errorf("succeeded: got %d (%+v)", st.Succeeded, st.Entries)
	}

	var out []Entry
	if code := doJSON(t, h, "GET", "/api/outcomes?limit=1", "", &out); code != 200 || len(out) != 1 {
		t.Errorf("outcomes: %d %+v", code, out)
	}
}

func TestRoutes_RequireToken(t *testing.T) {
	// WHAT: /api routes answer 401 without the bearer token; /health stays open.
	// WHY: Enqueue and run upload local files under the operator's remote session.
	s := newSEI(t)
	dir := writeFiles(t, map[string]string{"a.txt": "a"})
	cfg := testConfig(s)
	cfg.API.UploadRoot = dir
	svc, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	h := svc.Routes()

	body, _ := json.Marshal(map[string]any{"paths": []string{dir}})
	for _, token := range []string{"", "wrong", testToken + "x"} {
		for _, tt := range []struct{ method, path, body string }{
			{"GET", "/api/queue", ""},
			{"POST", "/api/queue", string(body)},
			{"POST", "/api/run", ""},
			{"GET", "/api/outcomes", ""},
		} {
			if code := doJSONAs(t, h, token, tt.method, tt.path, tt.body, nil); code != http.StatusUnauthorized {
				t.Errorf("%s %s with token %q: got %d, want 401", tt.method, tt.path, token, code)
			}
		}
	}
	if st := svc.Status(); st.Queued != 0 {
		t.Errorf("rejected requests queued %d files", st.Queued)
	}
	if code := doJSONAs(t, h, "", "GET", "/health", "", nil); code != http.StatusOK {
		t.Errorf("health: got %d", code)
	}

	cfg.API.Token = ""
	closed, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if code := doJSONAs(t, closed.Routes(), "", "GET", "/api/queue", "", nil); code != http.StatusUnauthorized {
		t.Errorf("unset token must close the api: got %d", code)
	}
}

func TestRoutes_UploadRoot(t *testing.T) {
	// WHAT: API enqueue only accepts paths under api.upload_root, symlinks resolved.
	s := newSEI(t)
	root := writeFiles(t, map[string]string{"ok.txt": "ok"})
	outside := writeFiles(t, map[string]string{"secret.txt": "secret"})
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), link); err != nil {
		t.Skipf("symlink: %v", err)
	}

	cfg := testConfig(s)
	cfg.API.UploadRoot = root
	svc, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	h := svc.Routes()

	for _, p := range []string{
		filepath.Join(outside, "secret.txt"),
		filepath.Join(root, "..", filepath.Base(outside), "secret.txt"),
		link,
	} {
		body, _ := json.Marshal(map[string]any{"paths": []string{p}})
		if code := doJSON(t, h, "POST", "/api/queue", string(body), nil); code != http.StatusForbidden {
			t.Errorf("enqueue %s: got %d, want 403", p, code)
		}
	}
	var entries []Entry
	if code := doJSON(t, h, "POST", "/api/queue", `{"paths":["ok.txt"]}`, &entries); code != http.StatusCreated || len(entries) != 1 {
		t.Errorf("relative path under root: %d %+v", code, entries)
	}

	cfg.API.UploadRoot = ""
	noRoot, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(map[string]any{"paths": []string{filepath.Join(root, "ok.txt")}})
	if code := doJSON(t, noRoot.Routes(), "POST", "/api/queue", string(body), nil); code != http.StatusForbidden {
		t.Errorf("enqueue without upload root: got %d, want 403", code)
	}
}
