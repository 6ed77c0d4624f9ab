// Package htmlsanitize cleans user-influenced rich text before it is stored.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("span", "strong", "em", "b", "i")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Sanitize strips scripts, event handlers and unsafe URLs, keeping basic formatting.
func Sanitize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return policy.Sanitize(s)
}

// Escape returns s with HTML special characters escaped, for interpolating names into rich text.
func Escape(s string) string {
	return bluemonday.StrictPolicy().Sanitize(s)
}
