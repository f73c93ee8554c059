package session

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// FormContentType is the content type of EncodeForm bodies.
const FormContentType = "application/x-www-form-urlencoded"

// EncodeForm url-encodes values in the named charset, keys sorted. Runes the
// charset cannot represent are sent as HTML numeric references, the way
// browsers submit forms of Latin-1 pages.
func EncodeForm(values map[string]string, charsetName string) (string, error) {
	enc := func(s string) (string, error) { return s, nil }
	if charsetName != "" && !strings.EqualFold(charsetName, "utf-8") && !strings.EqualFold(charsetName, "utf8") {
		e, err := htmlindex.Get(charsetName)
		if err != nil {
			return "", fmt.Errorf("session: charset %q: %w", charsetName, err)
		}
		enc = encoder(e)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		ek, err := enc(k)
		if err != nil {
			return "", fmt.Errorf("session: encode key %q: %w", k, err)
		}
		ev, err := enc(values[k])
		if err != nil {
			return "", fmt.Errorf("session: encode %q: %w", k, err)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(ek))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(ev))
	}
	return b.String(), nil
}

func encoder(e encoding.Encoding) func(string) (string, error) {
	if cm, ok := e.(*charmap.Charmap); ok {
		return func(s string) (string, error) {
			var b strings.Builder
			for _, r := range s {
				if c, ok := cm.EncodeRune(r); ok {
					b.WriteByte(c)
					continue
				}
				fmt.Fprintf(&b, "&#%d;", r)
			}
			return b.String(), nil
		}
	}
	return encoding.ReplaceUnsupported(e.NewEncoder()).String
}

// Multipart builds a multipart/form-data body: fields in sorted order, then
// the file part.
func Multipart(fields map[string]string, fileField, filename string, r io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("session: multipart field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("session: multipart file part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("session: multipart copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("session: multipart close: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
