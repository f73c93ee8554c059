package attach

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// sei is a minimal SEI double: one process, one document type list, an
// upload endpoint and a save that redirects to the tree view.
type sei struct {
	srv *httptest.Server

	mu      sync.Mutex
	seq     []string
	cookies []string
}

func newSEI(t *testing.T) *sei {
	t.Helper()
	s := &sei{}
	s.srv = httptest.NewServer(s)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sei) processURL() string {
	return s.srv.URL + "/sei/controlador.php?acao=procedimento_trabalhar&id_procedimento=1"
}

func (s *sei) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.seq {
		if c == call {
			n++
		}
	}
	return n
}

func (s *sei) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acao := r.URL.Query().Get("acao")
	s.mu.Lock()
	s.seq = append(s.seq, r.Method+" "+acao)
	if c, err := r.Cookie("PHPSESSID"); err == nil {
		s.cookies = append(s.cookies, c.Value)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
	switch acao {
	case "procedimento_trabalhar":
		io.WriteString(w, `<a href="controlador.php?acao=documento_escolher_tipo&amp;id_procedimento=1">Incluir Documento</a>`)
	case "documento_escolher_tipo":
		if r.Method == http.MethodPost {
			io.WriteString(w, seiPrepare)
			return
		}
		io.WriteString(w, `<form id="frmDocumentoEscolherTipo" method="post" action="controlador.php?acao=documento_escolher_tipo&amp;id_procedimento=1">
<input type="hidden" name="hdnIdProcedimento" value="1">
<select name="selSerie"><option value="">Selecione</option><option value="99">Anexo</option>
<option value="12">Nota Fiscal</option><option value="7">Oficio</option></select></form>`)
	case "documento_receber":
		if r.Method != http.MethodPost {
			io.WriteString(w, seiPrepare)
			return
		}
		http.Redirect(w, r, "controlador.php?acao=arvore_visualizar&acao_origem=documento_receber&id_procedimento=1", http.StatusFound)
	case "documento_upload_anexo":
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
		fmt.Fprintf(w, "81#%s#hash#%d#05/03/2024 14:30:00", hdr.Filename, len(data))
	case "arvore_visualizar":
		io.WriteString(w, `<div id="arvore">Processo 1</div>`)
	default:
		http.NotFound(w, r)
	}
}

const seiPrepare = `<form id="frmDocumentoCadastro" method="post" action="controlador.php?acao=documento_receber&amp;id_procedimento=1">
<input type="hidden" name="hdnIdProcedimento" value="1">
<input type="hidden" name="hdnSiglaUnidade" value="SEAD">
<input type="hidden" name="hdnSiglaUsuario" value="ana">
<input type="hidden" name="hdnAnexos" value="">
<input type="text" name="txtNumero" value="">
</form>
<form id="frmAnexos" method="post" enctype="multipart/form-data" action="controlador.php?acao=documento_upload_anexo&amp;id_procedimento=1">
<input type="hidden" name="hdnIdUpload" value="up-1">
<input type="file" name="filArquivo">
</form>
<script>new infraUpload('frmAnexos','controlador.php?acao=documento_upload_anexo&id_procedimento=1');</script>`

var fixedTime = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testToken = "s3cret-token"

func testConfig(s *sei) Config {
	cfg := Config{}
	cfg.Protocol.ProcessURL = s.processURL()
	cfg.Protocol.StageTimeout = 5 * time.Second
	cfg.API.Token = testToken
	return cfg
}

// writeFiles creates name→content files in a fresh directory.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}
