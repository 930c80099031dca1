// Package sheet assembles query results into a single xlsx workbook.
package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/reportmailer/internal/query"
	"github.com/xuri/excelize/v2"
)

const (
	MimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// MaxNameLength is the longest worksheet name Excel accepts.
	MaxNameLength = 31

	defaultSheet = "Sheet1"
)

// Sheet is one worksheet of the artifact. When Notice is set the sheet holds
// a single ERROR row with that message instead of Result.
type Sheet struct {
	Name   string
	Result *query.Result
	Totals []any
	Notice string
}

// Assemble renders sheets, in order, into an xlsx workbook.
func Assemble(sheets []Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create totals style: %w", err)
	}

	names := UniqueNames(sheetNames(sheets))
	for i, s := range sheets {
		name := names[i]
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, fmt.Errorf("rename sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %q: %w", name, err)
		}

		if err := writeSheet(f, name, s, bold); err != nil {
			return nil, fmt.Errorf("write sheet %q: %w", name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, s Sheet, bold int) error {
	switch {
	case s.Notice != "":
		return setRow(f, name, 1, []any{"ERROR", s.Notice})
	case s.Result.Empty():
		return setRow(f, name, 1, []any{"INFO", "No data returned for query: " + s.Name})
	}

	header := make([]any, len(s.Result.Columns))
	for i, c := range s.Result.Columns {
		header[i] = c
	}
	if err := setRow(f, name, 1, header); err != nil {
		return err
	}

	row := 2
	for _, values := range s.Result.Rows {
		if err := setRow(f, name, row, values); err != nil {
			return err
		}
		row++
	}

	if len(s.Totals) == 0 {
		return nil
	}
	if err := setRow(f, name, row, s.Totals); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(s.Totals), row)
	return f.SetCellStyle(name, first, last, bold)
}

func setRow(f *excelize.File, name string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(name, cell, &values)
}

func sheetNames(sheets []Sheet) []string {
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	return names
}

// UniqueNames turns query names into valid worksheet names: forbidden
// characters are replaced, names are cut to MaxNameLength and made unique
// ignoring case by prefixing the 1-based position on collision.
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, raw := range names {
		base := sanitize(raw)
		if base == "" {
			base = "Sheet" + strconv.Itoa(i+1)
		}
		name := truncate(base)
		for n := i + 1; ; n++ {
			if _, taken := seen[strings.ToLower(name)]; !taken {
				break
			}
			name = truncate(strconv.Itoa(n) + "_" + base)
		}
		seen[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

var nameReplacer = strings.NewReplacer(
	":", "_", `\`, "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_",
)

func sanitize(name string) string {
	name = nameReplacer.Replace(strings.TrimSpace(name))
	return strings.Trim(name, "'")
}

func truncate(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return string([]rune(name)[:MaxNameLength])
}
