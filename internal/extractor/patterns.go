package extractor

import (
	"regexp"
	"strings"
)

var (
	// Pattern: <key>: <value> at column zero
	topKeyPattern = regexp.MustCompile(`^([A-Za-z#][\w#-]*)\s*:\s*(.*)$`)

	// Pattern: - <item> or - name: <item>
	listItemPattern = regexp.MustCompile(`^\s*-\s*(?:name\s*:\s*)?([^:\s][^:]*?)\s*$`)

	// Pattern: name: <item> on a continuation line of a list entry
	nameKeyPattern = regexp.MustCompile(`^\s+name\s*:\s*(.+?)\s*$`)
)

// matchTopKey returns the key and raw value of a top-level mapping pair.
func matchTopKey(line string) (string, string, bool) {
	m := topKeyPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// matchListName returns the file or bus named by a block sequence line,
// and whether the line starts a sequence item.
func matchListName(line string) (string, bool, bool) {
	if m := nameKeyPattern.FindStringSubmatch(line); m != nil {
		return unquote(m[1]), false, true
	}
	if m := listItemPattern.FindStringSubmatch(line); m != nil {
		return unquote(m[1]), true, true
	}
	return "", false, false
}

// inlineValues splits a scalar or flow sequence value.
func inlineValues(value string) []string {
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		var out []string
		for _, part := range strings.Split(value[1:len(value)-1], ",") {
			if part = unquote(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return []string{unquote(value)}
}

// stripComment drops a trailing "# ..." that is not inside quotes.
func stripComment(line string) string {
	quote := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t'):
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
