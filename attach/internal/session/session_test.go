package session

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docattach/attach/internal/urlguard"
)

func newClient(t *testing.T, srv *httptest.Server) *HTTP {
	t.Helper()
	g, err := urlguard.New(srv.URL+"/sei/", nil)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	c, err := New(Config{}, g)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestGet_CookiesAndFinalURL(t *testing.T) {
	// WHAT: Cookies set by one response are sent on the next; FinalURL follows redirects.
	// WHY: The remote session lives only in cookies and the save stage reads the final URL.
	mux := http.NewServeMux()
	mux.HandleFunc("/sei/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "s1", Path: "/"})
		http.Redirect(w, r, "/sei/controlador.php?acao=arvore_visualizar", http.StatusFound)
	})
	mux.HandleFunc("/sei/controlador.php", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("PHPSESSID")
		if err != nil || c.Value != "s1" {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		io.WriteString(w, "<html>tree</html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, srv)
	resp, err := c.Get(context.Background(), srv.URL+"/sei/start")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.FinalURL != srv.URL+"/sei/controlador.php?acao=arvore_visualizar" {
		t.Errorf("final url: got %q", resp.FinalURL)
	}
	if resp.Text != "<html>tree</html>" || resp.Status != 200 {
		t.Errorf("response: got %+v", resp)
	}
}

func TestGet_LoginRedirectBlocked(t *testing.T) {
	// WHAT: A redirect to the login page fails with ErrSessionExpired.
	// WHY: Following it would post form state into the login page.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sip/login.php?sigla_sistema=SEI", http.StatusFound)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	_, err := c.Get(context.Background(), srv.URL+"/sei/controlador.php?acao=x")
	if !errors.Is(err, urlguard.ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
}

func TestGet_OffOriginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newClient(t, srv)
	_, err := c.Get(context.Background(), "http://other.invalid/sei/")
	if !errors.Is(err, urlguard.ErrOffOrigin) {
		t.Fatalf("got %v, want ErrOffOrigin", err)
	}
}

func TestGet_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	resp, err := c.Get(context.Background(), srv.URL+"/sei/x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *StatusError", err)
	}
	if se.Status != 500 {
		t.Errorf("status: got %d", se.Status)
	}
	if resp == nil || !strings.Contains(resp.Text, "boom") {
		t.Errorf("response should be returned with the error, got %+v", resp)
	}
}

func TestGet_Latin1Decoding(t *testing.T) {
	// WHAT: ISO-8859-1 pages are decoded to UTF-8.
	// WHY: Option labels with accents must normalize correctly.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write([]byte("<option>Of\xedcio</option>"))
	}))
	defer srv.Close()

	c := newClient(t, srv)
	resp, err := c.Get(context.Background(), srv.URL+"/sei/")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "<option>Ofício</option>" {
		t.Errorf("text: got %q", resp.Text)
	}
}

func TestPost_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != FormContentType || string(body) != "a=1" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	g, _ := urlguard.New(srv.URL, nil)
	c, err := New(Config{MaxBytes: 1024}, g)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Post(context.Background(), srv.URL+"/p", strings.NewReader("a=1"), FormContentType); err == nil {
		t.Fatal("expected body cap error")
	}
}

func TestEncodeForm(t *testing.T) {
	// WHAT: Latin-1 encoding, sorted keys, numeric references for unmappable runes.
	values := map[string]string{"txtNumero": "Ofício 1", "a": "x&y", "em": "ł"}
	got, err := EncodeForm(values, "iso-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	want := "a=x%26y&em=%26%23322%3B&txtNumero=Of%EDcio+1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	utf, err := EncodeForm(map[string]string{"k": "í"}, "utf-8")
	if err != nil {
		t.Fatal(err)
	}
	if utf != "k=%C3%AD" {
		t.Errorf("utf-8: got %q", utf)
	}

	if _, err := EncodeForm(values, "no-such-charset"); err == nil {
		t.Error("unknown charset should fail")
	}
}

func TestMultipart(t *testing.T) {
	body, ct, err := Multipart(map[string]string{"hdnIdUpload": "tok"}, "filArquivo", "nota.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		t.Fatal(err)
	}
	r := multipart.NewReader(body, params["boundary"])
	form, err := r.ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if form.Value["hdnIdUpload"][0] != "tok" {
		t.Errorf("field: got %v", form.Value)
	}
	fh := form.File["filArquivo"]
	if len(fh) != 1 || fh[0].Filename != "nota.pdf" {
		t.Fatalf("file: got %v", fh)
	}
	f, _ := fh[0].Open()
	data, _ := io.ReadAll(f)
	if string(data) != "%PDF-1.4" {
		t.Errorf("content: got %q", data)
	}
}
