// Package render normalizes model output for chat delivery.
//
// Generative models occasionally wrap replies in HTML even when asked for
// plain text. Sending that through a chat transport either leaks raw tags to
// the user or trips the platform's parser. Clean strips unsafe markup with
// bluemonday and converts what remains to markdown, which every supported
// transport renders acceptably as plain text.
package render

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// tagPattern matches an opening, closing, or self-closing HTML tag.
var tagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// Clean returns text safe to send to a chat transport. Plain text passes
// through with surrounding whitespace trimmed; HTML-bearing text is
// sanitized and converted to markdown.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if !tagPattern.MatchString(s) {
		return s
	}
	sanitized := policy.Sanitize(s)
	md, err := htmltomarkdown.ConvertString(sanitized)
	if err != nil {
		// Conversion failure leaves sanitized HTML, which is still safe
		// to deliver.
		return strings.TrimSpace(sanitized)
	}
	return strings.TrimSpace(md)
}
