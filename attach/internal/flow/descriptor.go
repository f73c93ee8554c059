package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const minDescriptorFields = 4

// Descriptor is what the binary upload answers: id, name, hash, size and
// timestamp, separated by '#' or '|'.
type Descriptor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
}

// ParseDescriptor reads the upload response body. The last non-empty line
// carries the descriptor; anything before it is ignored.
//
// Fields are read from both ends: id first, then hash, size and an optional
// timestamp from the end. Whatever sits between id and hash is the name, so a
// name may contain either separator.
func ParseDescriptor(body string) (Descriptor, error) {
	line := ""
	for _, l := range strings.Split(strings.TrimSpace(body), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
		}
	}
	if line == "" {
		return Descriptor{}, &MalformedResponseError{Body: excerpt(body, 200), Fields: 0}
	}

	var best []string
	bestSep, bestOK := "", false
	for _, sep := range []string{"#", "|"} {
		fields := strings.Split(line, sep)
		_, ok := layout(fields)
		if best == nil || (ok && !bestOK) || (ok == bestOK && len(fields) > len(best)) {
			best, bestSep, bestOK = fields, sep, ok
		}
	}
	if len(best) < minDescriptorFields || strings.TrimSpace(best[0]) == "" {
		return Descriptor{}, &MalformedResponseError{Body: excerpt(body, 200), Fields: len(best)}
	}

	for i := range best {
		best[i] = strings.TrimSpace(best[i])
	}
	sizeAt, _ := layout(best)
	d := Descriptor{
		ID:   best[0],
		Name: strings.Join(best[1:sizeAt-1], bestSep),
		Hash: best[sizeAt-1],
	}
	if n, err := strconv.ParseInt(best[sizeAt], 10, 64); err == nil {
		d.Size = n
	}
	if sizeAt < len(best)-1 {
		d.Timestamp = best[len(best)-1]
	}
	return d, nil
}

// layout returns the index of the size field and whether it holds an
// integer. A non-numeric last field is the timestamp.
func layout(fields []string) (int, bool) {
	n := len(fields)
	if n < minDescriptorFields {
		return n - 1, false
	}
	if isSize(fields[n-1]) {
		return n - 1, true
	}
	if n == minDescriptorFields {
		return n - 1, false
	}
	return n - 2, isSize(fields[n-2])
}

func isSize(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}

// attachment builds the save-form attachment row:
// id±name±datetime±size±humanSize±user±unit.
func attachment(d Descriptor, name string, size int64, at time.Time, user, unit string) string {
	if d.Size > 0 {
		size = d.Size
	}
	ts := d.Timestamp
	if ts == "" {
		ts = at.Format("02/01/2006 15:04:05")
	}
	return strings.Join([]string{
		d.ID,
		name,
		ts,
		strconv.FormatInt(size, 10),
		humanize.Bytes(uint64(size)),
		user,
		unit,
	}, "±")
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s…", string(r[:n]))
}
