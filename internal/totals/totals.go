// Package totals computes the optional summary row appended under a query
// result.
package totals

import (
	"math"
	"strconv"
	"strings"

	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/query"
)

// Compute sums the requested columns of result and returns one extra row,
// or nil when none of the requested columns is present. Cells that are not
// numeric count as zero. The label goes into labelColumn (the first column
// when empty or absent); when that column is itself summed, the label moves
// to the first column that is not.
func Compute(result *query.Result, columns []string, labelColumn, label string) []any {
	if result == nil || !result.HasColumns || len(columns) == 0 {
		return nil
	}

	index := make(map[string]int, len(result.Columns))
	for i, c := range result.Columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	sums := make(map[int]*acc)
	for _, c := range columns {
		if i, ok := index[c]; ok {
			sums[i] = &acc{}
		}
	}
	if len(sums) == 0 {
		return nil
	}

	for _, row := range result.Rows {
		for i, a := range sums {
			if i < len(row) {
				a.add(row[i])
			}
		}
	}

	out := make([]any, len(result.Columns))
	for i, a := range sums {
		out[i] = a.value()
	}

	if label == "" {
		label = models.DefaultTotalsLabel
	}
	li, ok := index[labelColumn]
	if labelColumn == "" || !ok {
		li = 0
	}
	if _, summed := sums[li]; summed {
		li = -1
		for i := range result.Columns {
			if _, summed := sums[i]; !summed {
				li = i
				break
			}
		}
	}
	if li >= 0 {
		out[li] = label
	}
	return out
}

// acc sums integer cells exactly in an int64 and switches to the float
// sum once a fractional cell appears or the integer sum would overflow.
type acc struct {
	i       int64
	f       float64
	inexact bool
}

func (a *acc) add(v any) {
	n, f, isInt := toNumber(v)
	a.f += f
	if a.inexact {
		return
	}
	sum := a.i + n
	if !isInt || (n > 0 && sum < a.i) || (n < 0 && sum > a.i) {
		a.inexact = true
		return
	}
	a.i = sum
}

func (a *acc) value() any {
	if a.inexact {
		return a.f
	}
	return a.i
}

// toNumber coerces a cell to a number. isInt is false when the cell carried
// a fractional representation or does not fit an int64; n is then zero.
func toNumber(v any) (n int64, f float64, isInt bool) {
	switch x := v.(type) {
	case nil:
		return 0, 0, true
	case int:
		return int64(x), float64(x), true
	case int8:
		return int64(x), float64(x), true
	case int16:
		return int64(x), float64(x), true
	case int32:
		return int64(x), float64(x), true
	case int64:
		return x, float64(x), true
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int64(x), float64(x), true
	case uint16:
		return int64(x), float64(x), true
	case uint32:
		return int64(x), float64(x), true
	case uint64:
		return fromUint(x)
	case float32:
		return 0, finite(float64(x)), false
	case float64:
		return 0, finite(x), false
	case []byte:
		return parse(string(x))
	case string:
		return parse(x)
	default:
		return 0, 0, true
	}
}

func fromUint(u uint64) (int64, float64, bool) {
	if u > math.MaxInt64 {
		return 0, float64(u), false
	}
	return int64(u), float64(u), true
}

func parse(s string) (int64, float64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, float64(i), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, true
	}
	return 0, finite(f), false
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
