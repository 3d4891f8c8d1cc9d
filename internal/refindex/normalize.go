package refindex

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeName produces the lookup key for a system or faction name:
//  1. Collapsing every whitespace run into a single space
//  2. Trimming surrounding whitespace
//  3. Unicode case folding
func NormalizeName(name string) string {
	name = whitespaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return cases.Fold().String(name)
}
