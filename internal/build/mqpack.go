package build

import (
	"strings"
)

// packMediaQueries merges top-level @media blocks with identical queries
// and moves them to the end of the sheet in order of first appearance.
// Nested @media rules and everything else are left in place.
func packMediaQueries(css string) string {
	var (
		rest    strings.Builder
		queries []string
		bodies  = make(map[string]*strings.Builder)
		depth   int
	)

	for i := 0; i < len(css); {
		c := css[i]
		switch {
		case c == '/' && strings.HasPrefix(css[i:], "/*"), c == '"', c == '\'':
			end := skipToken(css, i)
			rest.WriteString(css[i:end])
			i = end

		case c == '@' && depth == 0 && isMediaAt(css[i:]):
			open := indexTopLevel(css, i, '{')
			if open < 0 {
				rest.WriteString(css[i:])
				i = len(css)
				continue
			}
			closing := matchBrace(css, open)
			if closing < 0 {
				rest.WriteString(css[i:])
				i = len(css)
				continue
			}

			query := normalizeQuery(css[i+len("@media") : open])
			body, ok := bodies[query]
			if !ok {
				body = &strings.Builder{}
				bodies[query] = body
				queries = append(queries, query)
			}
			body.WriteString(strings.TrimSpace(css[open+1 : closing]))
			body.WriteString("\n")
			i = closing + 1

		case c == '{':
			depth++
			rest.WriteByte(c)
			i++

		case c == '}':
			if depth > 0 {
				depth--
			}
			rest.WriteByte(c)
			i++

		default:
			rest.WriteByte(c)
			i++
		}
	}

	if len(queries) == 0 {
		return css
	}

	out := strings.TrimRight(rest.String(), " \t\r\n")
	var sb strings.Builder
	sb.WriteString(out)
	for _, q := range queries {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("@media ")
		sb.WriteString(q)
		sb.WriteString(" {\n")
		sb.WriteString(bodies[q].String())
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

func isMediaAt(s string) bool {
	const kw = "@media"
	if len(s) <= len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	switch s[len(kw)] {
	case ' ', '\t', '\n', '\r', '(':
		return true
	}
	return false
}

// normalizeQuery collapses whitespace so equivalent preludes compare equal.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// skipToken returns the index just past the comment or string at i.
func skipToken(css string, i int) int {
	if strings.HasPrefix(css[i:], "/*") {
		end := strings.Index(css[i+2:], "*/")
		if end < 0 {
			return len(css)
		}
		return i + 2 + end + 2
	}

	quote := css[i]
	for j := i + 1; j < len(css); j++ {
		switch css[j] {
		case '\\':
			j++
		case quote, '\n':
			return j + 1
		}
	}
	return len(css)
}

// indexTopLevel finds the next ch at or after i outside strings and comments.
// It stops at ';' or '}' and returns -1 then.
func indexTopLevel(css string, i int, ch byte) int {
	for i < len(css) {
		c := css[i]
		switch {
		case c == '/' && strings.HasPrefix(css[i:], "/*"), c == '"', c == '\'':
			i = skipToken(css, i)
			continue
		case c == ch:
			return i
		case c == ';' || c == '}':
			return -1
		}
		i++
	}
	return -1
}

// matchBrace returns the index of the '}' closing the '{' at open.
func matchBrace(css string, open int) int {
	depth := 0
	for i := open; i < len(css); {
		c := css[i]
		switch {
		case c == '/' && strings.HasPrefix(css[i:], "/*"), c == '"', c == '\'':
			i = skipToken(css, i)
			continue
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}
