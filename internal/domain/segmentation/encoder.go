package segmentation

import (
	"fmt"
	"sort"

	"github.com/okian/custseg/internal/domain/customer"
)

// UnknownOrdinal is the code given to categories not seen during fit.
const UnknownOrdinal = -1

// ordinalEncoder maps each categorical column's values to their index in the
// sorted list of values seen during fit.
type ordinalEncoder struct {
	columns    []string
	categories [][]string
	index      []map[string]int
}

func fitEncoder(records []customer.FeatureRecord, columns []string) ordinalEncoder {
	cats := make([][]string, len(columns))
	for j, col := range columns {
		seen := make(map[string]struct{})
		for _, rec := range records {
			seen[categoryOf(rec[col])] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		cats[j] = values
	}
	return newEncoder(columns, cats)
}

func newEncoder(columns []string, categories [][]string) ordinalEncoder {
	enc := ordinalEncoder{
		columns:    columns,
		categories: categories,
		index:      make([]map[string]int, len(categories)),
	}
	for j, values := range categories {
		m := make(map[string]int, len(values))
		for i, v := range values {
			m[v] = i
		}
		enc.index[j] = m
	}
	return enc
}

// encode returns the ordinal for column j, or UnknownOrdinal and false.
func (e ordinalEncoder) encode(j int, v any) (float64, bool) {
	code, ok := e.index[j][categoryOf(v)]
	if !ok {
		return UnknownOrdinal, false
	}
	return float64(code), true
}

func categoryOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
