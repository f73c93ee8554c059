// CLAUDE:SUMMARY Local file checks run before any request: empty file, size cap, extension allow-list, PDF structure via pdfcpu.
// Package preflight rejects files the remote application would refuse, before
// the upload flow spends a form session on them.
package preflight

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrEmpty      = errors.New("empty file")
	ErrTooLarge   = errors.New("file too large")
	ErrExtension  = errors.New("extension not allowed")
	ErrInvalidPDF = errors.New("invalid pdf")
)

// DefaultExtensions are the formats the remote application accepts out of
// the box.
var DefaultExtensions = []string{
	"pdf", "doc", "docx", "odt", "rtf", "txt", "csv",
	"xls", "xlsx", "ods", "ppt", "pptx", "odp",
	"jpg", "jpeg", "png", "gif", "tif", "tiff",
	"html", "htm", "xml", "zip", "mp3", "mp4",
}

// Config tunes the checks. Zero values take the defaults.
type Config struct {
	MaxFileMB  int      `yaml:"max_file_mb" json:"max_file_mb"`
	Extensions []string `yaml:"extensions" json:"extensions"`
	SkipPDF    bool     `yaml:"skip_pdf_validation" json:"skip_pdf_validation"`
	StrictPDF  bool     `yaml:"strict_pdf" json:"strict_pdf"`
}

func (c *Config) defaults() {
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 100
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
}

// Checker runs the checks. It satisfies flow.Preflighter.
type Checker struct {
	maxBytes int64
	allowed  map[string]bool
	cfg      Config
	logger   *slog.Logger
}

// New builds a Checker. A nil logger means slog.Default().
func New(cfg Config, logger *slog.Logger) *Checker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
	}
	return &Checker{
		maxBytes: int64(cfg.MaxFileMB) << 20,
		allowed:  allowed,
		cfg:      cfg,
		logger:   logger,
	}
}

// Check validates one file. size is the declared size; PDFs are read through
// open and the actual byte count is checked again.
func (c *Checker) Check(name string, size int64, open func() (io.ReadCloser, error)) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !c.allowed[ext] {
		if ext == "" {
			ext = "none"
		}
		return fmt.Errorf("preflight: %s: %w (%s)", name, ErrExtension, ext)
	}
	if size == 0 {
		return fmt.Errorf("preflight: %s: %w", name, ErrEmpty)
	}
	if size > c.maxBytes {
		return fmt.Errorf("preflight: %s: %w (%s > %s)", name, ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.maxBytes)))
	}
	if ext != "pdf" || c.cfg.SkipPDF {
		return nil
	}

	rc, err := open()
	if err != nil {
		return fmt.Errorf("preflight: open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return fmt.Errorf("preflight: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("preflight: %s: %w", name, ErrEmpty)
	}
	if int64(len(data)) > c.maxBytes {
		return fmt.Errorf("preflight: %s: %w", name, ErrTooLarge)
	}

	pages, err := c.validatePDF(data)
	if err != nil {
		return fmt.Errorf("preflight: %s: %w: %v", name, ErrInvalidPDF, err)
	}
	c.logger.Debug("preflight: pdf ok", "file", name, "pages", pages, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (c *Checker) validatePDF(data []byte) (pages int, err error) {
	// pdfcpu panics on some truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if c.cfg.StrictPDF {
		conf.ValidationMode = model.ValidationStrict
	}
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	if ctx.PageCount == 0 {
		return 0, errors.New("no pages")
	}
	return ctx.PageCount, nil
}
