package page

import (
	"strings"

	"golang.org/x/net/html"
)

// looseDoc is what the tokenizer pass recovers. It works on the token
// stream, so controls stay attached to the <form> tags that surround them in
// the source even when the tree builder moved them out (a form opened inside
// a <table> is closed at once and its inputs end up outside it).
type looseDoc struct {
	controls []looseControl
	links    []string
	frames   []string
	scripts  []string
}

// looseControl is an input, select or textarea. form is the id (else the
// name) of the enclosing form in source order, "" outside any form.
type looseControl struct {
	tag, typ, name, id, value string
	form                      string
	checked, disabled         bool
	options                   []looseOption
}

type looseOption struct {
	value, label string
	hasValue     bool
	selected     bool
}

func parseLoose(raw string) *looseDoc {
	ld := &looseDoc{}
	z := html.NewTokenizer(strings.NewReader(raw))
	var (
		form     string
		inScript bool
		sel      *looseControl // open <select>
		opt      *looseOption  // open <option>
		area     *looseControl // open <textarea>
	)
	closeOption := func() {
		if sel != nil && opt != nil {
			sel.options = append(sel.options, *opt)
		}
		opt = nil
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			closeOption()
			if sel != nil {
				ld.controls = append(ld.controls, *sel)
			}
			return ld
		case html.TextToken:
			switch {
			case inScript:
				ld.scripts = append(ld.scripts, string(z.Text()))
			case opt != nil:
				opt.label += string(z.Text())
			case area != nil:
				area.value += string(z.Text())
			}
		case html.EndTagToken:
			switch z.Token().Data {
			case "script":
				inScript = false
			case "form":
				form = ""
			case "option":
				closeOption()
			case "select":
				closeOption()
				if sel != nil {
					ld.controls = append(ld.controls, *sel)
					sel = nil
				}
			case "textarea":
				if area != nil {
					ld.controls = append(ld.controls, *area)
					area = nil
				}
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			attrs := map[string]string{}
			for _, a := range t.Attr {
				attrs[strings.ToLower(a.Key)] = a.Val
			}
			_, disabled := attrs["disabled"]
			switch t.Data {
			case "script":
				inScript = tt == html.StartTagToken
			case "form":
				form = attrs["id"]
				if form == "" {
					form = attrs["name"]
				}
			case "a", "area":
				if href := attrs["href"]; href != "" {
					if strings.HasPrefix(strings.ToLower(href), "javascript:") {
						ld.scripts = append(ld.scripts, href)
					} else {
						ld.links = append(ld.links, href)
					}
				}
			case "iframe", "frame":
				if src := attrs["src"]; src != "" {
					ld.frames = append(ld.frames, src)
				}
			case "input":
				_, checked := attrs["checked"]
				typ := strings.ToLower(strings.TrimSpace(attrs["type"]))
				if typ == "" {
					typ = "text"
				}
				ld.controls = append(ld.controls, looseControl{
					tag: "input", typ: typ, name: attrs["name"], id: attrs["id"],
					value: attrs["value"], form: form, checked: checked, disabled: disabled,
				})
			case "select":
				sel = &looseControl{tag: "select", name: attrs["name"], id: attrs["id"], form: form, disabled: disabled}
			case "option":
				closeOption()
				v, has := attrs["value"]
				_, selected := attrs["selected"]
				opt = &looseOption{value: v, hasValue: has, selected: selected}
			case "textarea":
				if tt == html.StartTagToken {
					area = &looseControl{tag: "textarea", name: attrs["name"], id: attrs["id"], form: form, disabled: disabled}
				}
			}
			if oc := attrs["onclick"]; oc != "" {
				ld.scripts = append(ld.scripts, oc)
			}
		}
	}
}

// fill copies recovered controls into snap. With form empty only prefixed
// hidden fields and checked radios are taken page-wide; otherwise every
// control of that form is taken, as the tree scan would have.
func (ld *looseDoc) fill(snap *Snapshot, sc Scope, form string) {
	for _, c := range ld.controls {
		if c.disabled || (form != "" && c.form != form) {
			continue
		}
		name := c.name
		if name == "" {
			name = c.id
		}
		if name == "" {
			continue
		}
		switch {
		case c.tag == "select":
			if form == "" {
				continue
			}
			snap.Select[name] = c.selected()
			if name == sc.SeriesField || c.id == sc.SeriesField {
				snap.Options = c.seriesOptions()
			}
		case c.tag == "textarea":
			if form != "" {
				snap.Text[name] = c.value
			}
		case c.typ == "hidden":
			if sc.HiddenPrefix == "" || strings.HasPrefix(c.name, sc.HiddenPrefix) || strings.HasPrefix(c.id, sc.HiddenPrefix) {
				snap.Hidden[name] = c.value
			}
		case c.typ == "radio" || c.typ == "checkbox":
			if c.checked {
				v := c.value
				if v == "" {
					v = "on"
				}
				snap.Radio[name] = v
			}
		case form != "" && textInput(c.typ):
			snap.Text[name] = c.value
		}
	}
}

func (c looseControl) selected() string {
	if len(c.options) == 0 {
		return ""
	}
	pick := c.options[0]
	for _, o := range c.options {
		if o.selected {
			pick = o
			break
		}
	}
	if pick.hasValue {
		return pick.value
	}
	return collapse(pick.label)
}

func (c looseControl) seriesOptions() []SeriesOption {
	var opts []SeriesOption
	seen := map[string]bool{}
	for _, o := range c.options {
		value := strings.TrimSpace(o.value)
		label := collapse(o.label)
		if isPlaceholder(value) || label == "" || seen[value] {
			continue
		}
		seen[value] = true
		opts = append(opts, SeriesOption{Value: value, Label: label, Norm: Normalize(label)})
	}
	return opts
}

func textInput(typ string) bool {
	switch typ {
	case "text", "", "number", "date", "search", "email", "tel":
		return true
	}
	return false
}
