package flow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docattach/attach/internal/classify"
	"github.com/hazyhaar/docattach/attach/internal/page"
	"github.com/hazyhaar/docattach/attach/internal/session"
)

// prepared is the upload-ready page: the prepare form and the upload form
// scoped snapshots of the same document.
type prepared struct {
	doc    *page.Document
	form   page.Snapshot
	upload page.Snapshot
}

func (x *run) hasForm(doc *page.Document) bool {
	return doc.Has(x.cfg.TypeForm) || doc.Has(x.cfg.PrepareForm)
}

// firstLink returns the first guarded link of doc matching one of patterns
// and not yet visited.
func (x *run) firstLink(doc *page.Document, patterns []string, visited map[string]bool) string {
	for _, l := range doc.LinksMatching(patterns...) {
		u, err := x.guard.Normalize(l, doc.Base())
		if err != nil {
			x.log.Debug("flow: link rejected", "url", l, "error", err)
			continue
		}
		if s := u.String(); !visited[s] {
			return s
		}
	}
	return ""
}

// discoverEntry finds the page carrying the type-selection or prepare form.
// The configured entry URL wins; otherwise the entry link of the process
// page is followed. One extra hop is allowed when the fetched page only
// links to the form.
func (x *run) discoverEntry(ctx context.Context) (*page.Document, error) {
	visited := map[string]bool{}
	entry := x.cfg.EntryURL
	if entry == "" {
		resp, err := x.get(ctx, StateDiscoverEntry, x.cfg.ProcessURL)
		if err != nil {
			return nil, err
		}
		if err := x.loginPage(resp); err != nil {
			return nil, err
		}
		doc := page.Parse(resp.Text, resp.FinalURL)
		if x.hasForm(doc) {
			x.uc.EntryURL = resp.FinalURL
			return doc, nil
		}
		visited[x.cfg.ProcessURL] = true
		visited[resp.FinalURL] = true
		if entry = x.firstLink(doc, x.cfg.EntryLinkPatterns, visited); entry == "" {
			return nil, x.drift(StateDiscoverEntry, "entry link", resp.FinalURL, doc)
		}
	} else {
		u, err := x.guard.Normalize(entry, "")
		if err != nil {
			return nil, err
		}
		entry = u.String()
	}

	var doc *page.Document
	hops := append(append([]string{}, x.cfg.EntryLinkPatterns...), x.cfg.PrepareLinkPatterns...)
	for hop := 0; hop < 2 && entry != ""; hop++ {
		resp, err := x.get(ctx, StateDiscoverEntry, entry)
		if err != nil {
			return nil, err
		}
		if err := x.loginPage(resp); err != nil {
			return nil, err
		}
		doc = page.Parse(resp.Text, resp.FinalURL)
		x.uc.EntryURL = resp.FinalURL
		if x.hasForm(doc) {
			return doc, nil
		}
		visited[entry] = true
		visited[resp.FinalURL] = true
		entry = x.firstLink(doc, hops, visited)
	}
	return nil, x.drift(StateDiscoverEntry, "type-selection or prepare form", x.uc.EntryURL, doc)
}

func (x *run) classify(options []page.SeriesOption) error {
	res, err := x.classifier.Classify(x.file.Name, options)
	if err != nil {
		return err
	}
	x.uc.SelectedSeries = res.Option
	x.uc.ProcessedName = res.Name
	x.uc.ClassifiedVia = res.Via
	x.log.Debug("flow: classified", "series", res.Option.Label, "via", res.Via, "name", res.Name)
	return nil
}

// selectType classifies the file against the scraped options and posts the
// type-selection form. It returns the prepare page.
func (x *run) selectType(ctx context.Context, doc *page.Document) (*page.Document, error) {
	snap := doc.Snapshot(x.scope(x.cfg.TypeForm))
	if err := x.classify(snap.Options); err != nil {
		if errors.Is(err, classify.ErrNoOptions) {
			return nil, x.drift(StateTypeFormObtained, "document type options", x.uc.EntryURL, doc)
		}
		return nil, err
	}

	fields := snap.Fields()
	fields[x.cfg.SeriesField] = x.uc.SelectedSeries.Value
	action := snap.FormAction
	if action == "" {
		action = x.uc.EntryURL
	}
	target, err := x.guard.Normalize(action, doc.Base())
	if err != nil {
		return nil, err
	}
	body, err := session.EncodeForm(fields, x.cfg.Charset)
	if err != nil {
		return nil, err
	}
	resp, err := x.post(ctx, StateTypeFormObtained, target.String(), strings.NewReader(body), session.FormContentType)
	if err != nil {
		return nil, err
	}
	if err := x.loginPage(resp); err != nil {
		return nil, err
	}
	if err := x.advance(StatePreparePosted); err != nil {
		return nil, err
	}
	return page.Parse(resp.Text, resp.FinalURL), nil
}

// configureUpload reads the prepare page: save action, upload URL and the
// carried-forward fields.
func (x *run) configureUpload(doc *page.Document) (*prepared, error) {
	p := &prepared{doc: doc, form: doc.Snapshot(x.scope(x.cfg.PrepareForm))}
	if !p.form.FormFound {
		return nil, x.drift(StatePreparePosted, "prepare form", doc.Base(), doc)
	}

	if x.uc.SelectedSeries.Value == "" {
		// Reached straight from discovery: the prepare form carries the list.
		if err := x.classify(p.form.Options); err != nil {
			if !errors.Is(err, classify.ErrNoOptions) {
				return nil, err
			}
			v := p.form.Select[x.cfg.SeriesField]
			if v == "" {
				return nil, x.drift(StatePreparePosted, "document type options", doc.Base(), doc)
			}
			x.uc.SelectedSeries = page.SeriesOption{Value: v}
			x.uc.ProcessedName = fallbackName(x.file.Name)
			x.uc.ClassifiedVia = "preselected"
		}
	}

	save, err := x.guard.Normalize(p.form.FormAction, doc.Base())
	if err != nil {
		return nil, x.drift(StatePreparePosted, "save action", doc.Base(), doc)
	}

	p.upload = doc.Snapshot(x.scope(x.cfg.UploadForm))
	uploadURL := x.firstLink(doc, x.cfg.UploadLinkPatterns, nil)
	if uploadURL == "" && p.upload.FormFound && p.upload.FormAction != doc.Base() {
		if u, err := x.guard.Normalize(p.upload.FormAction, doc.Base()); err == nil {
			uploadURL = u.String()
		}
	}
	if uploadURL == "" {
		return nil, x.drift(StatePreparePosted, "upload url", doc.Base(), doc)
	}

	x.uc.SaveURL = save.String()
	x.uc.UploadURL = uploadURL
	x.uc.BaseParams = p.form.Fields()
	x.uc.Unit = x.uc.BaseParams[x.cfg.UnitField]
	x.uc.User = x.uc.BaseParams[x.cfg.UserField]
	if x.uc.Unit == "" {
		x.uc.Unit = p.upload.Hidden[x.cfg.UnitField]
	}
	if x.uc.User == "" {
		x.uc.User = p.upload.Hidden[x.cfg.UserField]
	}
	return p, nil
}

func fallbackName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	r := []rune(stem)
	if len(r) > classify.MaxNameLen {
		r = r[:classify.MaxNameLen]
	}
	return strings.TrimSpace(string(r))
}

// resolveToken enforces the identifier invariant: the upload never starts
// without a value read from the remote pages.
func (x *run) resolveToken(ctx context.Context, p *prepared) error {
	sctx, cancel := x.stageCtx(ctx)
	defer cancel()
	tok := x.resolver.Resolve(sctx, p.upload, p.doc.Base())
	x.uc.UploadIdentifier = tok.Value
	x.uc.IdentifierSource = tok.Source
	if tok.Value == "" || (tok.Generated() && !x.cfg.AllowGeneratedToken) {
		return &IdentifierResolutionError{Field: x.cfg.TokenField, Source: tok.Source}
	}
	return nil
}

func (x *run) upload(ctx context.Context, p *prepared) (Descriptor, error) {
	rc, err := x.file.Open()
	if err != nil {
		return Descriptor{}, fmt.Errorf("flow: open %s: %w", x.file.Name, err)
	}
	defer rc.Close()

	fields := make(map[string]string, len(p.upload.Hidden)+1)
	for k, v := range p.upload.Hidden {
		fields[k] = v
	}
	fields[x.cfg.TokenField] = x.uc.UploadIdentifier
	body, contentType, err := session.Multipart(fields, x.cfg.FileField, x.file.Name, rc)
	if err != nil {
		return Descriptor{}, err
	}
	resp, err := x.post(ctx, StateUploadInProgress, x.uc.UploadURL, body, contentType)
	if err != nil {
		return Descriptor{}, err
	}
	if err := x.loginPage(resp); err != nil {
		return Descriptor{}, err
	}
	return ParseDescriptor(resp.Text)
}

// save posts the carried-forward fields plus the attachment row. Success is
// read from the final URL only; the body says nothing reliable.
func (x *run) save(ctx context.Context, p *prepared) (*session.Response, error) {
	fields := make(map[string]string, len(x.uc.BaseParams)+8)
	for k, v := range x.uc.BaseParams {
		fields[k] = v
	}
	mod := x.file.ModTime
	if mod.IsZero() {
		mod = x.now()
	}
	fields[x.cfg.SeriesField] = x.uc.SelectedSeries.Value
	fields[x.cfg.NumberField] = x.uc.ProcessedName
	fields[x.cfg.DateField] = mod.Format(x.cfg.DateLayout)
	for k, v := range x.cfg.ExtraSaveFields {
		fields[k] = v
	}
	fields[x.cfg.AttachmentsField] = attachment(*x.uc.Descriptor, x.file.Name, x.file.Size, x.now(), x.uc.User, x.uc.Unit)

	body, err := session.EncodeForm(fields, x.cfg.Charset)
	if err != nil {
		return nil, x.fail(err)
	}
	resp, err := x.post(ctx, StateSavePosted, x.uc.SaveURL, strings.NewReader(body), session.FormContentType)
	if err != nil {
		return nil, x.fail(err)
	}
	x.outcome.FinalURL = resp.FinalURL

	if x.saveSucceeded(resp.FinalURL) {
		x.outcome.Success = true
		if err := x.advance(StateSaveSucceeded); err != nil {
			return nil, x.fail(err)
		}
		return resp, nil
	}

	doc := page.Parse(resp.Text, resp.FinalURL)
	msgs := dedupe(append(doc.Banners(x.cfg.BannerSelectors), doc.Alerts()...))
	x.outcome.Errors = msgs
	if err := x.advance(StateSaveFailed); err != nil {
		return nil, x.fail(err)
	}
	return nil, &ValidationError{FinalURL: resp.FinalURL, Banners: msgs}
}

func (x *run) saveSucceeded(finalURL string) bool {
	u := strings.ToLower(strings.ReplaceAll(finalURL, "&amp;", "&"))
	for _, m := range x.cfg.SuccessMarkers {
		if !strings.Contains(u, strings.ToLower(m)) {
			return false
		}
	}
	return len(x.cfg.SuccessMarkers) > 0
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (x *run) refreshTree(ctx context.Context) {
	target := x.cfg.TreeURL
	if target == "" {
		target = x.outcome.FinalURL
	}
	if _, err := x.get(ctx, StateTreeRefreshed, target); err != nil {
		x.log.WarnContext(ctx, "flow: tree refresh failed", "url", target, "error", err)
	}
}
