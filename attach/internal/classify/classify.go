// CLAUDE:SUMMARY Maps a filename to one of the scraped document-type options (pattern table, label prefix, default, generic, first) and derives the processed name.
// Package classify picks the document type (series) a file is filed under.
//
// Matching runs on normalized text (see page.Normalize) and is a pure
// function of the filename and the option list: the same inputs always give
// the same Result.
package classify

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hazyhaar/docattach/attach/internal/page"
)

// ErrNoOptions is returned when the type-selection page offered nothing to
// choose from.
var ErrNoOptions = errors.New("classify: no document type options")

// Via values tell which heuristic produced a Result.
const (
	ViaPattern = "pattern"
	ViaPrefix  = "prefix"
	ViaDefault = "default"
	ViaGeneric = "generic"
	ViaFirst   = "first"
)

// MaxNameLen bounds the processed name sent as the document number.
const MaxNameLen = 50

// RuleSpec maps a regular expression over the normalized filename to the
// canonical term searched in option labels.
type RuleSpec struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Term    string `yaml:"term" json:"term"`
}

// DefaultRules is the vocabulary of Brazilian administrative documents.
// Order matters: the first matching rule with a matching option wins.
var DefaultRules = []RuleSpec{
	{Pattern: `\bnota de empenho\b|\bempenho\b`, Term: "nota de empenho"},
	{Pattern: `\bnota fiscal\b|\bnfs?e?\b|\bdanfe\b`, Term: "nota fiscal"},
	{Pattern: `\boficio\b|\bof\b`, Term: "oficio"},
	{Pattern: `\bmemorando\b|\bmemo\b`, Term: "memorando"},
	{Pattern: `\bdespacho\b|\bdesp\b`, Term: "despacho"},
	{Pattern: `\brelatorio\b|\brel\b`, Term: "relatorio"},
	{Pattern: `\bcertidao\b|\bcert\b`, Term: "certidao"},
	{Pattern: `\bcontrato\b|\bctr\b`, Term: "contrato"},
	{Pattern: `\bfatura\b|\bfat\b`, Term: "fatura"},
	{Pattern: `\brecibo\b`, Term: "recibo"},
	{Pattern: `\bata\b`, Term: "ata"},
	{Pattern: `\bparecer\b`, Term: "parecer"},
	{Pattern: `\brequerimento\b|\breq\b`, Term: "requerimento"},
	{Pattern: `\bcomprovante\b|\bcomp\b`, Term: "comprovante"},
	{Pattern: `\bdeclaracao\b|\bdecl\b`, Term: "declaracao"},
	{Pattern: `\bportaria\b`, Term: "portaria"},
	{Pattern: `\bplanilha\b`, Term: "planilha"},
	{Pattern: `\btermo\b`, Term: "termo"},
	{Pattern: `\bboleto\b`, Term: "boleto"},
	{Pattern: `\blaudo\b`, Term: "laudo"},
	{Pattern: `\bproposta\b`, Term: "proposta"},
	{Pattern: `\bprocuracao\b`, Term: "procuracao"},
}

// Config configures a Classifier.
type Config struct {
	Rules        []RuleSpec `yaml:"rules" json:"rules"`                 // default: DefaultRules
	DefaultLabel string     `yaml:"default_label" json:"default_label"` // default: "Anexo"
	GenericTerm  string     `yaml:"generic_term" json:"generic_term"`   // default: "anexo"
	MaxNameLen   int        `yaml:"max_name_len" json:"max_name_len"`   // default: MaxNameLen
}

func (c *Config) defaults() {
	if len(c.Rules) == 0 {
		c.Rules = DefaultRules
	}
	if c.DefaultLabel == "" {
		c.DefaultLabel = "Anexo"
	}
	if c.GenericTerm == "" {
		c.GenericTerm = "anexo"
	}
	if c.MaxNameLen <= 0 {
		c.MaxNameLen = MaxNameLen
	}
}

type rule struct {
	re   *regexp.Regexp
	term string
}

// Classifier holds the compiled rule table. It is safe for concurrent use.
type Classifier struct {
	rules        []rule
	defaultLabel string
	genericTerm  string
	maxName      int
}

// New compiles the rule table.
func New(cfg Config) (*Classifier, error) {
	cfg.defaults()
	c := &Classifier{
		defaultLabel: page.Normalize(cfg.DefaultLabel),
		genericTerm:  page.Normalize(cfg.GenericTerm),
		maxName:      cfg.MaxNameLen,
	}
	for i, rs := range cfg.Rules {
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classify: rule %d: %w", i, err)
		}
		term := page.Normalize(rs.Term)
		if term == "" {
			return nil, fmt.Errorf("classify: rule %d: empty term", i)
		}
		c.rules = append(c.rules, rule{re: re, term: term})
	}
	return c, nil
}

// Result is the chosen option and the processed name.
type Result struct {
	Option page.SeriesOption `json:"option"`
	Name   string            `json:"name"`
	Via    string            `json:"via"`
}

// Classify picks an option for filename.
func (c *Classifier) Classify(filename string, options []page.SeriesOption) (Result, error) {
	if len(options) == 0 {
		return Result{}, ErrNoOptions
	}
	norms := make([]string, len(options))
	for i, o := range options {
		norms[i] = o.Norm
		if norms[i] == "" {
			norms[i] = page.Normalize(o.Label)
		}
	}

	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	words := splitWords(stem)
	name := page.Normalize(stem)

	pick := func(i int, via string, strip ...string) Result {
		strip = append(strip, norms[i])
		return Result{Option: options[i], Name: c.processedName(words, strip, via == ViaPrefix), Via: via}
	}

	for _, r := range c.rules {
		m := r.re.FindString(name)
		if m == "" {
			continue
		}
		for i, n := range norms {
			if containsWord(n, r.term) {
				return pick(i, ViaPattern, strings.TrimSpace(m)), nil
			}
		}
	}
	for i, n := range norms {
		if n != "" && strings.HasPrefix(name, n) {
			return pick(i, ViaPrefix), nil
		}
	}
	for i, n := range norms {
		if n == c.defaultLabel {
			return pick(i, ViaDefault), nil
		}
	}
	for i, n := range norms {
		if containsWord(n, c.genericTerm) {
			return pick(i, ViaGeneric), nil
		}
	}
	return pick(0, ViaFirst), nil
}

// processedName drops the longest leading run of words equal to one of the
// strip phrases, then truncates on a word boundary. With partial set, the
// last word of a phrase may also be a prefix of the filename word, and only
// that prefix is cut ("Edital2024" loses "Edital"). An empty result falls
// back to the whole stem.
func (c *Classifier) processedName(words []string, strip []string, partial bool) string {
	cut, tail := 0, ""
	for _, phrase := range strip {
		pw := strings.Fields(phrase)
		if len(pw) == 0 || len(pw) > len(words) || len(pw) < cut {
			continue
		}
		match, rest := true, ""
		for j, w := range pw {
			nw := page.Normalize(words[j])
			if nw == w {
				continue
			}
			r, wn := []rune(words[j]), len([]rune(w))
			if partial && j == len(pw)-1 && strings.HasPrefix(nw, w) && len(r) > wn {
				rest = string(r[wn:])
				continue
			}
			match = false
			break
		}
		if match && (len(pw) > cut || tail != "" && rest == "") {
			cut, tail = len(pw), rest
		}
	}
	rest := words[cut:]
	if tail != "" {
		rest = append([]string{tail}, rest...)
	}
	if len(rest) == 0 {
		rest = words
	}
	return truncate(strings.Join(rest, " "), c.maxName)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	// r[n] being a space means the cut already falls on a boundary.
	if r[n] != ' ' {
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimSpace(cut)
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
