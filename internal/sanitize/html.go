package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// StrictPolicy removes all HTML tags and attributes.
	StrictPolicy = bluemonday.StrictPolicy()

	// UGCPolicy allows basic formatting: <p>, <b>, <i>, <em>, <strong>, <a>, lists, <br>.
	UGCPolicy = bluemonday.UGCPolicy()
)

// Text strips all HTML and returns plain text with entities decoded.
// Use for names, titles, locations, booking notes and reasons. The result is
// plain text and must still be escaped when rendered as HTML.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}

// HTML sanitizes HTML content, allowing safe formatting tags.
// Use for event descriptions.
func HTML(input string) string {
	return strings.TrimSpace(UGCPolicy.Sanitize(input))
}
