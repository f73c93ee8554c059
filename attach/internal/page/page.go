// CLAUDE:SUMMARY Typed adapter over fetched HTML: hidden/text/select/radio fields scoped to one form, series options, links, frames, banners.
// Package page turns an HTML response body into a navigable Document and
// extracts the state the upload flow carries from one request to the next.
//
// Parsing never fails: goquery is tried first and, if it cannot build a
// tree, a permissive tokenizer pass recovers inputs, links and frames. The
// same pass also restores the controls of a form the tree builder emptied,
// which happens with forms opened inside table markup.
package page

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// SeriesOption is one entry of the document-type list offered by the remote
// application. Norm is the label after Normalize, used for matching.
type SeriesOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Norm  string `json:"-"`
}

// Snapshot is the typed view of one page, scoped to one form. It is built
// once per response and never mutated.
type Snapshot struct {
	Hidden  map[string]string
	Text    map[string]string
	Select  map[string]string
	Radio   map[string]string // checked radios and checkboxes
	Options []SeriesOption

	FormAction string
	FormFound  bool
	RawHTML    string
	BaseURL    string
}

// Fields returns every submittable field of the snapshot in a fresh map.
// Later groups win on name collisions: hidden, text, select, radio.
func (s *Snapshot) Fields() map[string]string {
	out := make(map[string]string, len(s.Hidden)+len(s.Text)+len(s.Select)+len(s.Radio))
	for _, m := range []map[string]string{s.Hidden, s.Text, s.Select, s.Radio} {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Scope selects which form a Snapshot reads.
type Scope struct {
	Form         string // CSS selector of the relevant form
	SeriesField  string // name of the document-type select
	HiddenPrefix string // marker prefix of hidden state fields
}

func (s *Scope) defaults() {
	if s.SeriesField == "" {
		s.SeriesField = "selSerie"
	}
	if s.HiddenPrefix == "" {
		s.HiddenPrefix = "hdn"
	}
}

// Document is a parsed page.
type Document struct {
	raw  string
	base *url.URL
	doc  *goquery.Document

	// tokenizer pass: the whole document in permissive mode, built lazily
	// for form recovery otherwise
	loose     *looseDoc
	looseOnce sync.Once
}

// Parse builds a Document from raw HTML. baseURL may be empty; relative
// links then stay relative.
func Parse(raw, baseURL string) *Document {
	d := &Document{raw: raw, base: parseBase(baseURL)}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		d.loose = parseLoose(raw)
		return d
	}
	d.doc = doc
	return d
}

// parsePermissive builds a Document using only the tokenizer pass.
func parsePermissive(raw, baseURL string) *Document {
	return &Document{raw: raw, base: parseBase(baseURL), loose: parseLoose(raw)}
}

func (d *Document) tokens() *looseDoc {
	d.looseOnce.Do(func() {
		if d.loose == nil {
			d.loose = parseLoose(d.raw)
		}
	})
	return d.loose
}

func parseBase(baseURL string) *url.URL {
	if baseURL == "" {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	return u
}

// Permissive reports whether the Document fell back to the tokenizer pass.
func (d *Document) Permissive() bool { return d.doc == nil }

// Raw returns the HTML the Document was parsed from.
func (d *Document) Raw() string { return d.raw }

// Base returns the base URL as a string.
func (d *Document) Base() string {
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// Has reports whether selector matches at least one element.
func (d *Document) Has(selector string) bool {
	if d.doc == nil || selector == "" {
		return false
	}
	return d.doc.Find(selector).Length() > 0
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	if d.doc == nil {
		return ""
	}
	return collapse(d.doc.Find("title").First().Text())
}

// Snapshot extracts the form-scoped state described by sc.
func (d *Document) Snapshot(sc Scope) Snapshot {
	sc.defaults()
	snap := Snapshot{
		Hidden:  map[string]string{},
		Text:    map[string]string{},
		Select:  map[string]string{},
		Radio:   map[string]string{},
		RawHTML: d.raw,
		BaseURL: d.Base(),
	}
	if d.doc == nil {
		d.loose.fill(&snap, sc, "")
		return snap
	}

	root := d.doc.Selection
	if sc.Form != "" {
		if form := d.doc.Find(sc.Form).First(); form.Length() > 0 {
			root = form
			snap.FormFound = true
			action, _ := form.Attr("action")
			snap.FormAction = d.resolve(action)
		}
	}

	root.Find("input").Each(func(_ int, in *goquery.Selection) {
		if _, disabled := in.Attr("disabled"); disabled {
			return
		}
		typ := strings.ToLower(strings.TrimSpace(in.AttrOr("type", "text")))
		name := fieldName(in)
		if name == "" {
			return
		}
		value := in.AttrOr("value", "")
		switch typ {
		case "hidden":
			if hasPrefix(in, sc.HiddenPrefix) {
				snap.Hidden[name] = value
			}
		case "radio", "checkbox":
			if _, checked := in.Attr("checked"); checked {
				if value == "" {
					value = "on"
				}
				snap.Radio[name] = value
			}
		case "text", "", "number", "date", "search", "email", "tel":
			// Only fields of the scoped form; a page-wide scan picks up the
			// search box of the application header.
			if snap.FormFound {
				snap.Text[name] = value
			}
		}
	})
	if snap.FormFound {
		root.Find("textarea").Each(func(_ int, ta *goquery.Selection) {
			if name := fieldName(ta); name != "" {
				snap.Text[name] = ta.Text()
			}
		})
		root.Find("select").Each(func(_ int, sel *goquery.Selection) {
			if name := fieldName(sel); name != "" {
				snap.Select[name] = selectedValue(sel)
			}
		})
	}

	snap.Options = d.options(root, sc.SeriesField)

	// A form opened inside a table is closed by the tree builder before its
	// controls; read them back from the token stream.
	if snap.FormFound && root.Find("input, select, textarea").Length() == 0 {
		key := strings.TrimSpace(root.AttrOr("id", ""))
		if key == "" {
			key = strings.TrimSpace(root.AttrOr("name", ""))
		}
		if key != "" {
			options := snap.Options
			d.tokens().fill(&snap, sc, key)
			if len(snap.Options) == 0 {
				snap.Options = options
			}
		}
	}
	return snap
}

func (d *Document) options(root *goquery.Selection, field string) []SeriesOption {
	var opts []SeriesOption
	seen := map[string]bool{}
	add := func(value, label string) {
		value = strings.TrimSpace(value)
		label = collapse(label)
		if isPlaceholder(value) || label == "" || seen[value] {
			return
		}
		seen[value] = true
		opts = append(opts, SeriesOption{Value: value, Label: label, Norm: Normalize(label)})
	}

	sel := root.Find(`select[name="` + field + `"]`).First()
	if sel.Length() == 0 {
		sel = root.Find("select#" + field).First()
	}
	if sel.Length() > 0 {
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			add(o.AttrOr("value", ""), o.Text())
		})
		return opts
	}

	// Type-selection pages list the series as links carrying id_serie.
	root.Find("a").Each(func(_ int, a *goquery.Selection) {
		for _, attr := range []string{"href", "onclick"} {
			v, ok := a.Attr(attr)
			if !ok {
				continue
			}
			if m := serieParam.FindStringSubmatch(v); m != nil {
				add(m[1], a.Text())
				return
			}
		}
	})
	return opts
}

var serieParam = regexp.MustCompile(`[?&](?:amp;)?id_serie=([0-9A-Za-z_-]+)`)

func isPlaceholder(v string) bool {
	switch v {
	case "", "null", "-1":
		return true
	}
	return false
}

func fieldName(s *goquery.Selection) string {
	if name := strings.TrimSpace(s.AttrOr("name", "")); name != "" {
		return name
	}
	return strings.TrimSpace(s.AttrOr("id", ""))
}

func hasPrefix(s *goquery.Selection, prefix string) bool {
	if prefix == "" {
		return true
	}
	for _, attr := range []string{"name", "id"} {
		if strings.HasPrefix(s.AttrOr(attr, ""), prefix) {
			return true
		}
	}
	return false
}

func selectedValue(sel *goquery.Selection) string {
	opt := sel.Find("option[selected]").First()
	if opt.Length() == 0 {
		opt = sel.Find("option").First()
	}
	if opt.Length() == 0 {
		return ""
	}
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return collapse(opt.Text())
}

// resolve makes href absolute against the document base. Invalid hrefs are
// returned untouched; the URL guard rejects them later.
func (d *Document) resolve(href string) string {
	href = strings.TrimSpace(href)
	if d.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return d.base.ResolveReference(ref).String()
}

var spaces = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
