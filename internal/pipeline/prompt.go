package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var styleTitle = cases.Title(language.English)

// styleLabel normalizes a free-form style name into the label embedded in
// prompt instructions, e.g. "minimal  studio" -> "Minimal Studio".
func styleLabel(style string) string {
	s := strings.Join(strings.Fields(style), " ")
	if s == "" {
		return "Clean Commercial"
	}
	return styleTitle.String(strings.ToLower(s))
}
