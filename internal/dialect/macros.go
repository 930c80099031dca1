package dialect

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const macroDateLayout = "2006-01-02"

var sysdateMacro = regexp.MustCompile(`(?i)\{\s*sysdate\s*(?:([+-])\s*(\d+)\s*)?\}`)

// ApplyDateMacros replaces {sysdate}, {sysdate+N} and {sysdate-N} with a
// quoted 'YYYY-MM-DD' literal relative to now. A macro already wrapped in
// single quotes receives the bare date. Other {...} expressions are kept.
func ApplyDateMacros(sqlText string, now time.Time) string {
	matches := sysdateMacro.FindAllStringSubmatchIndex(sqlText, -1)
	if len(matches) == 0 {
		return sqlText
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		days := 0
		if m[4] >= 0 {
			n, err := strconv.Atoi(sqlText[m[4]:m[5]])
			if err != nil {
				// Out of range for int: leave the expression untouched.
				continue
			}
			days = n
			if sqlText[m[2]:m[3]] == "-" {
				days = -n
			}
		}
		date := now.AddDate(0, 0, days).Format(macroDateLayout)

		b.WriteString(sqlText[last:start])
		if start > 0 && end < len(sqlText) && sqlText[start-1] == '\'' && sqlText[end] == '\'' {
			b.WriteString(date)
		} else {
			b.WriteString("'" + date + "'")
		}
		last = end
	}
	b.WriteString(sqlText[last:])
	return b.String()
}
