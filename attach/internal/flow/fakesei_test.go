package flow

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/hazyhaar/docattach/attach/internal/session"
	"github.com/hazyhaar/docattach/attach/internal/urlguard"
)

// fakeSEI imitates the handful of controlador.php actions the upload flow
// walks through. Knobs switch individual pages into failure modes.
type fakeSEI struct {
	srv *httptest.Server

	mu          sync.Mutex
	seq         []string
	saved       url.Values
	typeSerie   string
	uploadToken string
	uploadName  string

	noEntryLink     bool
	token           string
	descriptor      string
	uploadStatus    int
	uploadDelay     time.Duration
	saveReject      bool
	saveBody        string
	treeBody        string
	duplicate       bool
	duplicateStatus int
	loginRedirect   bool
}

func newFakeSEI(t *testing.T) *fakeSEI {
	t.Helper()
	f := &fakeSEI{token: "up-7f3a"}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSEI) processURL() string {
	return f.srv.URL + "/sei/controlador.php?acao=procedimento_trabalhar&id_procedimento=1"
}

func (f *fakeSEI) url(acao string) string {
	return f.srv.URL + "/sei/controlador.php?acao=" + acao + "&id_procedimento=1"
}

func (f *fakeSEI) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.seq {
		if s == call {
			n++
		}
	}
	return n
}

func (f *fakeSEI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seq...)
}

// savedField decodes a field of the save POST from the Latin-1 wire form.
func (f *fakeSEI) savedField(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := charmap.Windows1252.NewDecoder().String(f.saved.Get(name))
	return s
}

func (f *fakeSEI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acao := r.URL.Query().Get("acao")
	f.mu.Lock()
	f.seq = append(f.seq, r.Method+" "+acao)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.URL.Path == "/sip/login.php" {
		io.WriteString(w, `<form id="frmLogin"></form>`)
		return
	}
	if f.loginRedirect {
		http.Redirect(w, r, "/sip/login.php?sigla_sistema=SEI", http.StatusFound)
		return
	}

	switch acao {
	case "procedimento_trabalhar":
		if f.noEntryLink {
			io.WriteString(w, `<html><body><p>Processo 1</p></body></html>`)
			return
		}
		io.WriteString(w, `<html><body><a href="controlador.php?acao=documento_escolher_tipo&amp;id_procedimento=1">Incluir Documento</a></body></html>`)
	case "procedimento_menu":
		io.WriteString(w, `<html><body><a href="controlador.php?acao=arvore_visualizar&amp;id_procedimento=1">Árvore</a>
		<img onclick="location.href='controlador.php?acao=documento_escolher_tipo&id_procedimento=1'"></body></html>`)
	case "documento_escolher_tipo":
		if r.Method == http.MethodPost {
			r.ParseForm()
			f.mu.Lock()
			f.typeSerie = r.PostForm.Get("selSerie")
			f.mu.Unlock()
			io.WriteString(w, f.preparePage(""))
			return
		}
		io.WriteString(w, typePage)
	case "documento_receber":
		if r.Method != http.MethodPost {
			io.WriteString(w, f.preparePage(""))
			return
		}
		r.ParseForm()
		f.mu.Lock()
		f.saved = r.PostForm
		f.mu.Unlock()
		if f.saveReject {
			body := f.saveBody
			if body == "" {
				body = f.preparePage(`<div id="divInfraExcecao">Número já utilizado.</div><script>alert('Número já utilizado.');</script>`)
			}
			io.WriteString(w, body)
			return
		}
		http.Redirect(w, r, "controlador.php?acao=arvore_visualizar&acao_origem=documento_receber&id_procedimento=1", http.StatusFound)
	case "documento_upload_anexo":
		f.upload(w, r)
	case "arvore_visualizar":
		body := f.treeBody
		if body == "" {
			body = `<html><body><div id="arvore">Processo 1</div></body></html>`
		}
		if f.duplicate {
			body += `<a href="controlador.php?acao=documento_duplicado&amp;id_documento=9">Confirmar duplicidade</a>`
		}
		io.WriteString(w, body)
	case "documento_duplicado":
		if f.duplicateStatus != 0 {
			w.WriteHeader(f.duplicateStatus)
			return
		}
		io.WriteString(w, "ok")
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSEI) upload(w http.ResponseWriter, r *http.Request) {
	if f.uploadDelay > 0 {
		select {
		case <-time.After(f.uploadDelay):
		case <-r.Context().Done():
			return
		}
	}
	if f.uploadStatus != 0 {
		w.WriteHeader(f.uploadStatus)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("filArquivo")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)
	file.Close()

	tok := r.FormValue("hdnIdUpload")
	f.mu.Lock()
	f.uploadToken = tok
	f.uploadName = hdr.Filename
	f.mu.Unlock()
	if f.token != "" && tok != f.token {
		http.Error(w, "invalid upload id", http.StatusBadRequest)
		return
	}
	desc := f.descriptor
	if desc == "" {
		desc = fmt.Sprintf("55#%s#d41d8cd98f00b204e9800998ecf8427e#%d#01/02/2024 10:00:00", hdr.Filename, len(data))
	}
	io.WriteString(w, desc)
}

const typePage = `<html><body>
<form id="frmDocumentoEscolherTipo" method="post" action="controlador.php?acao=documento_escolher_tipo&amp;id_procedimento=1">
<input type="hidden" name="hdnIdProcedimento" value="1">
<select name="selSerie">
<option value="">Selecione</option>
<option value="99">Anexo</option>
<option value="12">Nota Fiscal</option>
<option value="7">Ofício</option>
</select>
</form></body></html>`

func (f *fakeSEI) preparePage(banner string) string {
	tok := ""
	if f.token != "" {
		tok = `<input type="hidden" name="hdnIdUpload" value="` + f.token + `">`
	}
	return `<html><body>` + banner + `
<form id="frmDocumentoCadastro" method="post" action="controlador.php?acao=documento_receber&amp;id_procedimento=1">
<input type="hidden" name="hdnIdProcedimento" value="1">
<input type="hidden" name="hdnSiglaUnidade" value="SEAD">
<input type="hidden" name="hdnSiglaUsuario" value="joao.silva">
<input type="hidden" name="hdnAnexos" value="">
<select name="selSerie"><option value="">&nbsp;</option><option value="99">Anexo</option><option value="12">Nota Fiscal</option></select>
<input type="text" name="txtNumero" value="">
<input type="text" name="txtDataElaboracao" value="">
</form>
<form id="frmAnexos" method="post" enctype="multipart/form-data" action="controlador.php?acao=documento_upload_anexo&amp;id_procedimento=1">` + tok + `
<input type="file" name="filArquivo">
</form>
<script>var objUpload = new infraUpload('frmAnexos','controlador.php?acao=documento_upload_anexo&id_procedimento=1');</script>
</body></html>`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(t *testing.T, f *fakeSEI, mut func(*Config), opts ...Option) *Runner {
	t.Helper()
	cfg := Config{ProcessURL: f.processURL(), StageTimeout: 5 * time.Second}
	if mut != nil {
		mut(&cfg)
	}
	g, err := urlguard.New(cfg.ProcessURL, nil)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	c, err := session.New(session.Config{}, g, session.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	r, err := NewRunner(cfg, c, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return r
}

var modTime = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

func notaFiscal() File {
	f := FromBytes("Nota_Fiscal_12345.pdf", []byte("%PDF-1.4 test"), modTime)
	f.ID = "ent_1"
	return f
}
