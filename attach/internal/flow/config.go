package flow

import (
	"time"

	"github.com/hazyhaar/docattach/attach/internal/classify"
)

// Config describes the remote protocol. Every selector, field name and
// marker is configurable; the defaults match SEI 3.x and 4.x.
type Config struct {
	ProcessURL string `yaml:"process_url" json:"process_url"`
	EntryURL   string `yaml:"entry_url" json:"entry_url"`
	TreeURL    string `yaml:"tree_url" json:"tree_url"`

	EntryLinkPatterns     []string `yaml:"entry_link_patterns" json:"entry_link_patterns"`
	PrepareLinkPatterns   []string `yaml:"prepare_link_patterns" json:"prepare_link_patterns"`
	UploadLinkPatterns    []string `yaml:"upload_link_patterns" json:"upload_link_patterns"`
	DuplicateLinkPatterns []string `yaml:"duplicate_link_patterns" json:"duplicate_link_patterns"`
	LoginPatterns         []string `yaml:"login_patterns" json:"login_patterns"`

	TypeForm    string `yaml:"type_form" json:"type_form"`
	PrepareForm string `yaml:"prepare_form" json:"prepare_form"`
	UploadForm  string `yaml:"upload_form" json:"upload_form"`

	HiddenPrefix     string `yaml:"hidden_prefix" json:"hidden_prefix"`
	SeriesField      string `yaml:"series_field" json:"series_field"`
	NumberField      string `yaml:"number_field" json:"number_field"`
	DateField        string `yaml:"date_field" json:"date_field"`
	AttachmentsField string `yaml:"attachments_field" json:"attachments_field"`
	TokenField       string `yaml:"token_field" json:"token_field"`
	FileField        string `yaml:"file_field" json:"file_field"`
	UnitField        string `yaml:"unit_field" json:"unit_field"`
	UserField        string `yaml:"user_field" json:"user_field"`

	SuccessMarkers  []string          `yaml:"success_markers" json:"success_markers"`
	BannerSelectors []string          `yaml:"banner_selectors" json:"banner_selectors"`
	ExtraSaveFields map[string]string `yaml:"extra_save_fields" json:"extra_save_fields"`
	DateLayout      string            `yaml:"date_layout" json:"date_layout"`
	Charset         string            `yaml:"charset" json:"charset"`

	Classifier classify.Config `yaml:"classifier" json:"classifier"`

	// AllowGeneratedToken lets a locally generated upload identifier through
	// to the upload stage. Off by default: a generated value means the page
	// did not carry one and the upload would be rejected anyway.
	AllowGeneratedToken bool `yaml:"allow_generated_token" json:"allow_generated_token"`
	// StageTimeout bounds every network stage. Default: 60s.
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`
	// ExcerptLen bounds the page excerpt attached to drift errors. Default: 300.
	ExcerptLen int `yaml:"excerpt_len" json:"excerpt_len"`
}

func defaultStrings(dst *[]string, def ...string) {
	if len(*dst) == 0 {
		*dst = def
	}
}

func defaultString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Defaults fills every unset field with the SEI value.
func (c *Config) Defaults() {
	defaultStrings(&c.EntryLinkPatterns, "acao=documento_escolher_tipo")
	defaultStrings(&c.PrepareLinkPatterns, "acao=documento_receber")
	defaultStrings(&c.UploadLinkPatterns, "acao=documento_upload_anexo")
	defaultStrings(&c.DuplicateLinkPatterns, "acao=documento_duplicado", "acao=documento_confirmar_duplicidade")
	defaultStrings(&c.SuccessMarkers, "acao=arvore_visualizar", "acao_origem=documento_receber")
	defaultStrings(&c.BannerSelectors, "#divInfraExcecao", ".infraExcecao", "#divInfraMsg0", ".alert-danger")

	defaultString(&c.TypeForm, "form#frmDocumentoEscolherTipo")
	defaultString(&c.PrepareForm, "form#frmDocumentoCadastro")
	defaultString(&c.UploadForm, "form#frmAnexos")
	defaultString(&c.HiddenPrefix, "hdn")
	defaultString(&c.SeriesField, "selSerie")
	defaultString(&c.NumberField, "txtNumero")
	defaultString(&c.DateField, "txtDataElaboracao")
	defaultString(&c.AttachmentsField, "hdnAnexos")
	defaultString(&c.TokenField, "hdnIdUpload")
	defaultString(&c.FileField, "filArquivo")
	defaultString(&c.UnitField, "hdnSiglaUnidade")
	defaultString(&c.UserField, "hdnSiglaUsuario")
	defaultString(&c.DateLayout, "02/01/2006")
	defaultString(&c.Charset, "iso-8859-1")

	if c.ExtraSaveFields == nil {
		c.ExtraSaveFields = map[string]string{"rdoNivelAcesso": "0", "rdoFormato": "N"}
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 60 * time.Second
	}
	if c.ExcerptLen <= 0 {
		c.ExcerptLen = 300
	}
}
