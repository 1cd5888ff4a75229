package render

import (
	"regexp"
	"strings"
)

var templateToken = regexp.MustCompile(`__[^_].*?__`)

// Fill expands template, replacing __x__ with bits["x"] (or nothing when x
// is unbound). A section __if_x__ ... [__else__ ...] __endif__ is kept only
// when bits["x"] is non-empty. Sections nest.
func Fill(template string, bits map[string]string) string {
	var b strings.Builder
	var stack []bool
	active := func() bool {
		for _, on := range stack {
			if !on {
				return false
			}
		}
		return true
	}

	last := 0
	for _, loc := range templateToken.FindAllStringIndex(template, -1) {
		if active() {
			b.WriteString(template[last:loc[0]])
		}
		last = loc[1]

		key := template[loc[0]+2 : loc[1]-2]
		switch {
		case strings.HasPrefix(key, "if_"):
			stack = append(stack, bits[key[3:]] != "")
		case key == "endif":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case key == "else":
			if len(stack) > 0 {
				stack[len(stack)-1] = !stack[len(stack)-1]
			}
		default:
			if active() {
				b.WriteString(bits[key])
			}
		}
	}
	if active() {
		b.WriteString(template[last:])
	}
	return b.String()
}
