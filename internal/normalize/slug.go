package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)
	nonSlugChars  = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
	hyphenRun     = regexp.MustCompile(`-{2,}`)
)

// Slugify derives the natural key for a display name: lowercased, whitespace
// runs turned into single hyphens, anything but word characters and hyphens
// removed, repeated hyphens collapsed and edge hyphens trimmed.
//
// Two names that produce the same slug identify the same category.
func Slugify(name string) string {
	// A Caser keeps state, so one is built per call.
	s := cases.Lower(language.Und).String(name)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
