package totals

import (
	"math"
	"testing"

	"github.com/reportmailer/internal/query"
	"github.com/stretchr/testify/assert"
)

func result(cols []string, rows ...[]any) *query.Result {
	return &query.Result{Columns: cols, Rows: rows, HasColumns: true}
}

func TestCompute_CoercesBadCellsToZero(t *testing.T) {
	res := result([]string{"name", "amount"},
		[]any{"a", int64(10)},
		[]any{"b", "bad"},
		[]any{"c", int64(5)},
		[]any{"d", nil},
	)
	row := Compute(res, []string{"amount"}, "", "")
	assert.Equal(t, []any{"TOTAL", int64(15)}, row)
}

func TestCompute_Floats(t *testing.T) {
	res := result([]string{"region", "qty", "price"},
		[]any{"n", "2", "1.5"},
		[]any{"s", int64(3), 2.25},
	)
	row := Compute(res, []string{"qty", "price"}, "region", "Sum")
	assert.Equal(t, []any{"Sum", int64(5), 3.75}, row)
}

func TestCompute_MissingColumnsSkipped(t *testing.T) {
	res := result([]string{"a", "b"}, []any{int64(1), int64(2)})

	assert.Nil(t, Compute(res, []string{"zzz"}, "", ""))
	assert.Equal(t, []any{"TOTAL", int64(2)}, Compute(res, []string{"zzz", "b"}, "", ""))
}

func TestCompute_LabelColumnIsTotalColumn(t *testing.T) {
	res := result([]string{"amount", "note", "qty"},
		[]any{int64(4), "x", int64(1)},
		[]any{int64(6), "y", int64(1)},
	)
	row := Compute(res, []string{"amount", "qty"}, "amount", "")
	assert.Equal(t, []any{int64(10), "TOTAL", int64(2)}, row)
}

func TestCompute_AllColumnsSummedDropsLabel(t *testing.T) {
	res := result([]string{"a"}, []any{int64(1)}, []any{int64(2)})
	assert.Equal(t, []any{int64(3)}, Compute(res, []string{"a"}, "", ""))
}

func TestCompute_UnknownLabelColumnFallsBackToFirst(t *testing.T) {
	res := result([]string{"k", "v"}, []any{"x", int64(7)})
	assert.Equal(t, []any{"TOTAL", int64(7)}, Compute(res, []string{"v"}, "missing", ""))
}

func TestCompute_NothingToDo(t *testing.T) {
	assert.Nil(t, Compute(nil, []string{"a"}, "", ""))
	assert.Nil(t, Compute(&query.Result{}, []string{"a"}, "", ""))
	assert.Nil(t, Compute(result([]string{"a"}), nil, "", ""))
}

func TestCompute_EmptyRowsStillProducesZeroTotals(t *testing.T) {
	res := result([]string{"k", "v"})
	assert.Equal(t, []any{"TOTAL", int64(0)}, Compute(res, []string{"v"}, "", ""))
}

func TestCompute_LargeIntegersStayExact(t *testing.T) {
	res := result([]string{"name", "n"},
		[]any{"a", int64(1 << 53)},
		[]any{"b", int64(1)},
		[]any{"c", "1"},
	)
	row := Compute(res, []string{"n"}, "", "")
	assert.Equal(t, []any{"TOTAL", int64(1<<53 + 2)}, row)

	res = result([]string{"name", "n"},
		[]any{"a", int64(math.MaxInt64 - 1)},
		[]any{"b", uint64(1)},
	)
	row = Compute(res, []string{"n"}, "", "")
	assert.Equal(t, []any{"TOTAL", int64(math.MaxInt64)}, row)
}

func TestCompute_IntegerOverflowFallsBackToFloat(t *testing.T) {
	res := result([]string{"name", "n"},
		[]any{"a", int64(math.MaxInt64)},
		[]any{"b", int64(1)},
	)
	row := Compute(res, []string{"n"}, "", "")
	assert.Equal(t, "TOTAL", row[0])
	assert.IsType(t, float64(0), row[1])
	assert.InDelta(t, math.Pow(2, 63), row[1], 1e4)

	res = result([]string{"name", "n"}, []any{"a", uint64(math.MaxUint64)})
	row = Compute(res, []string{"n"}, "", "")
	assert.IsType(t, float64(0), row[1])
}
