package token

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hazyhaar/docattach/attach/internal/page"
	"github.com/hazyhaar/docattach/attach/internal/session"
	"github.com/hazyhaar/docattach/attach/internal/urlguard"
	"github.com/hazyhaar/docattach/idgen"
)

const base = "https://sei.example.gov.br/sei/controlador.php?acao=documento_receber"

// fakeClient serves canned pages by URL.
type fakeClient struct {
	pages map[string]string
	fail  error
	gets  []string
}

func (f *fakeClient) Get(_ context.Context, url string) (*session.Response, error) {
	f.gets = append(f.gets, url)
	if f.fail != nil {
		return nil, f.fail
	}
	text, ok := f.pages[url]
	if !ok {
		return nil, &session.StatusError{URL: url, Status: 404}
	}
	return &session.Response{Text: text, FinalURL: url, Status: 200}, nil
}

func (f *fakeClient) Post(context.Context, string, io.Reader, string) (*session.Response, error) {
	return nil, errors.New("unexpected post")
}

var scope = page.Scope{Form: "#frmAnexos"}

func newResolver(t *testing.T, c session.Client) *Resolver {
	t.Helper()
	g, err := urlguard.New(base, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{Scope: scope}, c, g, WithGenerator(idgen.Sequence("gen-1", "gen-2")))
}

func snapshot(raw string) page.Snapshot {
	return page.Parse(raw, base).Snapshot(scope)
}

func TestResolve_Form(t *testing.T) {
	r := newResolver(t, &fakeClient{})
	tok := r.Resolve(context.Background(), snapshot(`<form id="frmAnexos"><input type="hidden" name="hdnIdUpload" value="u-123"></form>`), base)
	if tok != (Token{Value: "u-123", Source: SourceForm}) {
		t.Errorf("got %+v", tok)
	}
}

func TestResolve_OpaqueTokenCharacters(t *testing.T) {
	// WHAT: Base64 and colon-separated identifiers are taken as they are.
	// WHY: Skipping them would generate a local token and send the file to fallback.
	for _, v := range []string{"a+b/c==", "sess:42:up", "k=v;n=1"} {
		r := newResolver(t, &fakeClient{})
		raw := `<form id="frmAnexos"><input type="hidden" name="hdnIdUpload" value="` + v + `"></form>`
		if tok := r.Resolve(context.Background(), snapshot(raw), base); tok != (Token{Value: v, Source: SourceForm}) {
			t.Errorf("%q: got %+v", v, tok)
		}
		raw = `<form id="frmAnexos"></form><script>var cfg = {"hdnIdUpload": "` + v + `"};</script>`
		if tok := r.Resolve(context.Background(), snapshot(raw), base); tok != (Token{Value: v, Source: SourceRegex}) {
			t.Errorf("%q in script: got %+v", v, tok)
		}
	}
}

func TestResolve_Regex(t *testing.T) {
	// WHAT: A field outside the scoped form is found by scanning the raw HTML.
	// WHY: Some releases render the upload field into a sibling form or a script.
	tests := map[string]string{
		"script assignment": `<form id="frmAnexos"></form><script>document.getElementById('hdnIdUpload').value = 'tok-9';</script>`,
		"value before name": `<form id="frmAnexos"></form><div><input value="tok-9" type="hidden" name="hdnIdUpload"></div>`,
		"json literal":      `<form id="frmAnexos"></form><script>var cfg = {"hdnIdUpload": "tok-9"};</script>`,
		"sibling form":      `<form id="frmAnexos"></form><form id="frmOutro"><input type="hidden" id="hdnIdUpload" value="tok-9"></form>`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t, &fakeClient{})
			tok := r.Resolve(context.Background(), snapshot(raw), base)
			if tok != (Token{Value: "tok-9", Source: SourceRegex}) {
				t.Errorf("got %+v", tok)
			}
		})
	}
}

func TestResolve_Frame(t *testing.T) {
	// WHAT: Identifier absent on the main page but present in a nested frame.
	// WHY: The upload widget of newer releases lives in an iframe.
	fc := &fakeClient{pages: map[string]string{
		"https://sei.example.gov.br/sei/upload.php?id=7": `<form id="frmAnexos"><input type="hidden" name="hdnIdUpload" value="frame-tok"></form>`,
	}}
	r := newResolver(t, fc)
	tok := r.Resolve(context.Background(), snapshot(`<form id="frmAnexos"></form><iframe src="upload.php?id=7"></iframe>`), base)
	if tok != (Token{Value: "frame-tok", Source: SourceFrame}) {
		t.Errorf("got %+v", tok)
	}
	if len(fc.gets) != 1 {
		t.Errorf("gets: %v", fc.gets)
	}
}

func TestResolve_GeneratedMissing(t *testing.T) {
	// WHAT: Nothing found and no frame yields a generated, non-empty value.
	// WHY: The resolver never returns an empty identifier.
	r := newResolver(t, &fakeClient{})
	tok := r.Resolve(context.Background(), snapshot(`<form id="frmAnexos"></form>`), base)
	if tok.Value != "gen-1" || tok.Source != SourceGeneratedMissing || !tok.Generated() {
		t.Errorf("got %+v", tok)
	}
}

func TestResolve_GeneratedFrameError(t *testing.T) {
	// WHAT: A failing frame fetch fails closed with a distinct source.
	fc := &fakeClient{fail: errors.New("connection reset")}
	r := newResolver(t, fc)
	tok := r.Resolve(context.Background(), snapshot(`<iframe src="upload.php"></iframe>`), base)
	if tok.Value == "" || tok.Source != SourceGeneratedFrameError {
		t.Errorf("got %+v", tok)
	}
}

func TestResolve_OffOriginFrameNotFetched(t *testing.T) {
	fc := &fakeClient{}
	r := newResolver(t, fc)
	tok := r.Resolve(context.Background(), snapshot(`<iframe src="https://ads.example.com/frame"></iframe>`), base)
	if len(fc.gets) != 0 {
		t.Errorf("off-origin frame fetched: %v", fc.gets)
	}
	if tok.Source != SourceGeneratedFrameError {
		t.Errorf("got %+v", tok)
	}
}

func TestResolve_InvalidCandidatesSkipped(t *testing.T) {
	// WHAT: Values that are not plausible tokens are ignored.
	r := newResolver(t, &fakeClient{})
	raw := `<form id="frmAnexos"><input type="hidden" name="hdnIdUpload" value="not a token"></form>`
	tok := r.Resolve(context.Background(), snapshot(raw), base)
	if tok.Source != SourceGeneratedMissing {
		t.Errorf("got %+v", tok)
	}
}

func TestResolve_MaxFrames(t *testing.T) {
	fc := &fakeClient{pages: map[string]string{}}
	g, _ := urlguard.New(base, nil)
	r := New(Config{Scope: scope, MaxFrames: 2}, fc, g)
	raw := `<iframe src="a.php"></iframe><iframe src="b.php"></iframe><iframe src="c.php"></iframe>`
	tok := r.Resolve(context.Background(), snapshot(raw), base)
	if len(fc.gets) != 2 {
		t.Errorf("gets: got %d, want 2", len(fc.gets))
	}
	if tok.Value == "" {
		t.Error("value must never be empty")
	}
}
