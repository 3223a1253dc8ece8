// Package render converts scratchpad and review-summary markdown to HTML
// for the UI-notification contract: a human-readable summary appended to
// scratchpad and surfaced via the notification channel. Grounded on the
// teacher's goldmark dependency (present in go.mod but unexercised in
// the kept source); this is its wired home.
package render

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// ToHTML renders markdown to a fragment of HTML. The zero value of
// goldmark.New() is sufficient: scratchpad/review text is plain
// prose with the occasional fenced code block, not a document needing
// extensions like tables or footnotes.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
