package horosafe

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestValidateScheme(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://sei.example.gov.br/sei/controlador.php", false},
		{"http://sei.example.gov.br/", false},
		{"javascript:void(0)", true},
		{"mailto:someone@example.com", true},
		{"ftp://files.example.com/a.pdf", true},
		{"https:///nohost", true},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.raw, err)
		}
		if err := ValidateScheme(u); (err != nil) != tt.wantErr {
			t.Errorf("ValidateScheme(%q) error=%v, wantErr=%v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"abc123", "upload_1699.part-2", "A-B.C", "a+b/c==", "id:42", "k=v;s=1"}
	for _, s := range valid {
		if err := ValidateIdentifier(s); err != nil {
			t.Errorf("ValidateIdentifier(%q): unexpected error %v", s, err)
		}
	}
	invalid := []string{"", "a b", "x';alert(1)", strings.Repeat("a", 257), "a\tb", `<b>`, `a"b`, "a\x00b", "a\\b"}
	for _, s := range invalid {
		if err := ValidateIdentifier(s); err == nil {
			t.Errorf("ValidateIdentifier(%q): expected error", s)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	_, err = LimitedReadAll(strings.NewReader(strings.Repeat("x", 11)), 10)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}
