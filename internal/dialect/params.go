package dialect

import "strings"

// placeholder is one :name occurrence in a statement.
type placeholder struct {
	name  string
	start int // offset of the colon
	end   int // offset just past the name
}

// ExtractParameters returns the distinct :name placeholders of sqlText in
// order of first appearance.
func ExtractParameters(sqlText string) []string {
	seen := make(map[string]struct{})
	names := []string{}
	for _, p := range scanPlaceholders(sqlText) {
		if _, ok := seen[p.name]; ok {
			continue
		}
		seen[p.name] = struct{}{}
		names = append(names, p.name)
	}
	return names
}

// scanPlaceholders walks sqlText and reports :name tokens outside of string
// literals, quoted identifiers and comments. "::" casts are not placeholders.
func scanPlaceholders(sqlText string) []placeholder {
	var out []placeholder
	n := len(sqlText)
	for i := 0; i < n; i++ {
		c := sqlText[i]
		switch {
		case c == '\'' || c == '"':
			i = skipQuoted(sqlText, i, c)
		case c == '-' && i+1 < n && sqlText[i+1] == '-':
			if nl := strings.IndexByte(sqlText[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = n
			}
		case c == '/' && i+1 < n && sqlText[i+1] == '*':
			if endIdx := strings.Index(sqlText[i+2:], "*/"); endIdx >= 0 {
				i += endIdx + 3
			} else {
				i = n
			}
		case c == ':':
			if i+1 < n && sqlText[i+1] == ':' {
				i++
				continue
			}
			if i+1 >= n || !isIdentStart(sqlText[i+1]) {
				continue
			}
			j := i + 2
			for j < n && isIdentPart(sqlText[j]) {
				j++
			}
			out = append(out, placeholder{name: sqlText[i+1 : j], start: i, end: j})
			i = j - 1
		}
	}
	return out
}

// skipQuoted returns the offset of the closing quote matching the one at i.
// Doubled quotes inside the literal are handled by re-entering the literal.
func skipQuoted(s string, i int, quote byte) int {
	if end := strings.IndexByte(s[i+1:], quote); end >= 0 {
		return i + 1 + end
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// rewritePlaceholders replaces every placeholder occurrence with the text
// returned by repl.
func rewritePlaceholders(sqlText string, repl func(p placeholder) string) string {
	tokens := scanPlaceholders(sqlText)
	if len(tokens) == 0 {
		return sqlText
	}
	var b strings.Builder
	last := 0
	for _, p := range tokens {
		b.WriteString(sqlText[last:p.start])
		b.WriteString(repl(p))
		last = p.end
	}
	b.WriteString(sqlText[last:])
	return b.String()
}

// lookup returns the bound value for name, or nil when it has none.
func lookup(params map[string]string, name string) any {
	if v, ok := params[name]; ok {
		return v
	}
	return nil
}
