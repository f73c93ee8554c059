// Package horosafe holds the small safety primitives shared by the docattach
// packages: scheme checks for scraped links, identifier validation for values
// lifted out of markup, and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxResponseBody is the default cap for HTML page reads (8 MiB). Tree and
// form pages of the remote application stay well under it.
const MaxResponseBody int64 = 8 << 20

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrResponseTooLarge is returned by LimitedReadAll when the cap is exceeded.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// ValidateScheme checks that u is an absolute http or https URL with a host.
func ValidateScheme(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	return nil
}

// ValidateIdentifier rejects values unsuitable for an opaque form token:
// empty, longer than 256 bytes, or holding whitespace, control characters,
// quotes, angle brackets or backslashes. Base64 and URL-style tokens
// ("a+b/c==", "id:42") pass.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrResponseTooLarge
// if the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError {
		return false
	}
	return !strings.ContainsRune(`"'<>\`+"`", r)
}
