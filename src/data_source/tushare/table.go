package tushare

import (
	"fmt"
	"strconv"

	"stock-datahub/src/utils"
)

// table is the column-indexed payload of a Tushare response.
type table struct {
	Index map[string]int
	Items [][]interface{}
}

func (t *table) cell(row int, field string) (interface{}, bool) {
	col, ok := t.Index[field]
	if !ok || row >= len(t.Items) || col >= len(t.Items[row]) {
		return nil, false
	}
	v := t.Items[row][col]
	return v, v != nil
}

// str returns the cell as text; absent cells are empty.
func (t *table) str(row int, field string) string {
	v, ok := t.cell(row, field)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// num returns the cell as a number; null or unparsable cells are absent.
func (t *table) num(row int, field string) (float64, bool) {
	v, ok := t.cell(row, field)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		return utils.ParseNumber(x)
	}
	return 0, false
}
