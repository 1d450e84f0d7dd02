package column

import (
	"sort"

	"github.com/RuiFG/streaming/streaming-table/types"
)

type SortOrder struct {
	Column     Column
	Descending bool
}

// Asc orders by c ascending; a string names a column.
func Asc(c any) SortOrder { return SortOrder{Column: named(c)} }

// Desc orders by c descending; a string names a column.
func Desc(c any) SortOrder { return SortOrder{Column: named(c), Descending: true} }

func (s SortOrder) String() string {
	if s.Descending {
		return s.Column.String() + " DESC"
	}
	return s.Column.String() + " ASC"
}

// SortRows sorts rows in place, stable, by the given orders. Nulls sort first ascending.
func SortRows(rows []types.Row, schema types.Schema, orders []SortOrder) error {
	bounds := make([]Bound, len(orders))
	for i, o := range orders {
		b, err := o.Column.Bind(schema)
		if err != nil {
			return err
		}
		bounds[i] = b
	}
	keys := make([][]any, len(rows))
	for i, row := range rows {
		keys[i] = make([]any, len(bounds))
		for j, b := range bounds {
			v, err := b.Eval(row)
			if err != nil {
				return err
			}
			keys[i][j] = v
		}
	}
	var sortErr error
	index := make([]int, len(rows))
	for i := range index {
		index[i] = i
	}
	sort.SliceStable(index, func(a, b int) bool {
		for j, o := range orders {
			c, err := types.Compare(keys[index[a]][j], keys[index[b]][j])
			if err != nil {
				sortErr = err
				return false
			}
			if c != 0 {
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]types.Row, len(rows))
	for i, idx := range index {
		sorted[i] = rows[idx]
	}
	copy(rows, sorted)
	return nil
}
