package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Authorship is the structured author identity. The historical presentation
// encoding is "displayName#handle"; internally everything works on this
// pair and the string form survives only at the boundary.
type Authorship struct {
	DisplayName string
	Handle      int64
}

// ParseAuthorship splits a presentation author string. Malformed input (no
// "#handle" suffix, or a non-numeric handle) yields Handle 0 and never an
// error: such charts simply fail author-match checks.
func ParseAuthorship(encoded string) Authorship {
	idx := strings.LastIndex(encoded, "#")
	if idx < 0 {
		return Authorship{DisplayName: encoded}
	}
	handle, err := strconv.ParseInt(strings.TrimSpace(encoded[idx+1:]), 10, 64)
	if err != nil || handle <= 0 {
		return Authorship{DisplayName: encoded}
	}
	return Authorship{DisplayName: encoded[:idx], Handle: handle}
}

// Encode renders the presentation form used in stored author fields.
func (a Authorship) Encode() string {
	if a.Handle <= 0 {
		return a.DisplayName
	}
	return fmt.Sprintf("%s#%d", a.DisplayName, a.Handle)
}

// authorHandle extracts the handle from a chart's stored author field,
// preferring the English locale like the original data does.
func authorHandle(author LocalizedText) int64 {
	if h := ParseAuthorship(author.EN).Handle; h > 0 {
		return h
	}
	return ParseAuthorship(author.JA).Handle
}
