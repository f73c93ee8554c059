package page

import (
	"html"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// scriptURL matches application URLs embedded in onclick handlers and
	// inline scripts.
	scriptURL = regexp.MustCompile(`(?i)(?:https?://[^\s"'<>\\]+|[\w./-]*controlador(?:_ajax)?\.php\?[^\s"'<>\\]+)`)
	// frameSrc matches "xxx.src = '...'" assignments used to load frames lazily.
	frameSrc    = regexp.MustCompile(`\.src\s*=\s*['"]([^'"]+)['"]`)
	alertSingle = regexp.MustCompile(`alert\(\s*'((?:\\.|[^'\\])*)'\s*\)`)
	alertDouble = regexp.MustCompile(`alert\(\s*"((?:\\.|[^"\\])*)"\s*\)`)
)

// Links returns every URL reachable from the page, resolved against the base
// and in document order: anchor hrefs, onclick handlers and URLs embedded in
// inline scripts. The result is deduplicated but not guarded.
func (d *Document) Links() []string {
	var out []string
	seen := map[string]bool{}
	add := func(href string) {
		href = html.UnescapeString(strings.TrimSpace(href))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs := d.resolve(href)
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	addScript := func(s string) {
		for _, m := range scriptURL.FindAllString(s, -1) {
			add(m)
		}
	}

	if d.doc == nil {
		for _, l := range d.loose.links {
			add(l)
		}
		for _, s := range d.loose.scripts {
			addScript(s)
		}
		return out
	}

	d.doc.Find("a, area").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "javascript:") {
				addScript(href)
			} else {
				add(href)
			}
		}
		if onclick, ok := a.Attr("onclick"); ok {
			addScript(onclick)
		}
	})
	d.doc.Find("[onclick]").Not("a, area").Each(func(_ int, s *goquery.Selection) {
		addScript(s.AttrOr("onclick", ""))
	})
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		addScript(s.Text())
	})
	return out
}

// LinksMatching returns the Links containing any of the given fragments,
// compared case-insensitively after HTML unescaping.
func (d *Document) LinksMatching(fragments ...string) []string {
	var out []string
	for _, l := range d.Links() {
		lower := strings.ToLower(l)
		for _, f := range fragments {
			if f != "" && strings.Contains(lower, strings.ToLower(f)) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// Frames returns the sources of nested frames: iframe and frame src
// attributes, then script assignments to a frame's src.
func (d *Document) Frames() []string {
	var out []string
	seen := map[string]bool{}
	add := func(src string) {
		src = html.UnescapeString(strings.TrimSpace(src))
		if src == "" || src == "about:blank" {
			return
		}
		abs := d.resolve(src)
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	var scripts []string
	if d.doc == nil {
		for _, f := range d.loose.frames {
			add(f)
		}
		scripts = d.loose.scripts
	} else {
		d.doc.Find("iframe[src], frame[src]").Each(func(_ int, f *goquery.Selection) {
			add(f.AttrOr("src", ""))
		})
		d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			scripts = append(scripts, s.Text())
		})
	}
	for _, s := range scripts {
		for _, m := range frameSrc.FindAllStringSubmatch(s, -1) {
			add(m[1])
		}
	}
	return out
}

// Banners returns the messages shown in the given containers. A container
// holding a list yields one message per item. Order is preserved and
// duplicates are dropped.
func (d *Document) Banners(selectors []string) []string {
	if d.doc == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = collapse(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, sel := range selectors {
		d.doc.Find(sel).Each(func(_ int, c *goquery.Selection) {
			items := c.Find("li")
			if items.Length() == 0 {
				add(c.Text())
				return
			}
			items.Each(func(_ int, li *goquery.Selection) { add(li.Text()) })
		})
	}
	return out
}

var stripPolicy = bluemonday.StrictPolicy()

// Alerts returns the messages of inline alert('...') calls, JS-unescaped and
// stripped of markup.
func (d *Document) Alerts() []string {
	var scripts []string
	if d.doc == nil {
		scripts = d.loose.scripts
	} else {
		d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			scripts = append(scripts, s.Text())
		})
	}

	var out []string
	seen := map[string]bool{}
	for _, s := range scripts {
		for _, re := range []*regexp.Regexp{alertSingle, alertDouble} {
			for _, m := range re.FindAllStringSubmatch(s, -1) {
				msg := collapse(html.UnescapeString(stripPolicy.Sanitize(unescapeJS(m[1]))))
				if msg != "" && !seen[msg] {
					seen[msg] = true
					out = append(out, msg)
				}
			}
		}
	}
	return out
}

var jsEscapes = strings.NewReplacer(`\n`, " ", `\r`, " ", `\t`, " ", `\'`, "'", `\"`, `"`, `\\`, `\`)

func unescapeJS(s string) string {
	return jsEscapes.Replace(s)
}

// Excerpt returns up to n runes of the page body rendered as Markdown. It is
// attached to protocol drift errors so an operator can see what the remote
// application served instead of the expected form.
func (d *Document) Excerpt(n int) string {
	src := d.raw
	if d.doc != nil {
		if body, err := d.doc.Find("body").First().Html(); err == nil && body != "" {
			src = body
		}
	}
	md, err := htmltomarkdown.ConvertString(src)
	if err != nil {
		md = src
	}
	md = collapse(md)
	r := []rune(md)
	if n > 0 && len(r) > n {
		return string(r[:n]) + "…"
	}
	return md
}
