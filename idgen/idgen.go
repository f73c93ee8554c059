// CLAUDE:SUMMARY Pluggable ID generators: UUIDv7 for batch/entry IDs, base-36 NanoID for synthesized upload tokens.
// Package idgen provides the identifier generators used by docattach.
//
// Constructors that mint identifiers accept a Generator so tests can pin
// the sequence and production keeps UUIDv7.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Used for synthesized upload tokens, which the remote form expects to be
// short and URL-safe.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID ("bat_", "ent_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator yielding ids in order, then
// repeating the last one. Meant for tests.
func Sequence(ids ...string) Generator {
	i := 0
	return func() string {
		if len(ids) == 0 {
			return ""
		}
		id := ids[i]
		if i < len(ids)-1 {
			i++
		}
		return id
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
