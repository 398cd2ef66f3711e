package table

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Key columns shared by every normalized sheet after the identifying
// columns have been inserted.
const (
	ColumnYear       = "Jahr"
	ColumnOccupation = "Beruf"
	ColumnRegion     = "Region"
)

// JoinKeys are the columns attribute tables are joined on.
var JoinKeys = []string{ColumnYear, ColumnOccupation, ColumnRegion}

// MergeAttribute adds one normalized attribute sheet to the table of its
// (occupation, country) pair. The occupation and region labels are inserted
// into attr at positions 1 and 2. If both tables have a year column the
// result is an outer join on JoinKeys with colliding attr columns suffixed
// "_<attrID>"; otherwise the tables are placed side by side.
// occ may be nil for the first sheet of a pair. attr is not modified.
func MergeAttribute(occ, attr *Table, attrID, occupation, region string) (*Table, error) {
	if attr == nil {
		return nil, eris.New("table: merge nil attribute table")
	}
	a := attr.Clone()
	for _, c := range []string{ColumnOccupation, ColumnRegion} {
		if a.Has(c) {
			return nil, eris.Errorf("table: attribute %s already has a %q column", attrID, c)
		}
	}
	a.Insert(1, ColumnOccupation, occupation)
	a.Insert(2, ColumnRegion, region)

	if occ == nil || occ.Empty() {
		return a, nil
	}
	if occ.Has(ColumnYear) && a.Has(ColumnYear) {
		return OuterJoin(occ, a, JoinKeys, "_"+attrID)
	}
	return ConcatColumns(occ, a), nil
}

// OuterJoin joins left and right on keys, keeping every row of both sides.
// Non-key columns of right whose name already exists in left get suffix;
// if the suffixed name is taken too it is made unique with ".1", ".2", ...
// Rows keep the order of left, followed by right rows that matched nothing.
// Duplicate keys produce one row per matching pair.
func OuterJoin(left, right *Table, keys []string, suffix string) (*Table, error) {
	lk, err := keyIndexes(left, keys)
	if err != nil {
		return nil, eris.Wrap(err, "table: outer join left")
	}
	rk, err := keyIndexes(right, keys)
	if err != nil {
		return nil, eris.Wrap(err, "table: outer join right")
	}

	isKey := make(map[int]bool, len(rk))
	for _, i := range rk {
		isKey[i] = true
	}
	var rightCols []int
	out := New(left.Columns...)
	taken := make(map[string]bool, len(left.Columns)+len(right.Columns))
	for _, c := range left.Columns {
		taken[c] = true
	}
	for i, c := range right.Columns {
		if isKey[i] {
			continue
		}
		if left.Has(c) {
			c = uniqueName(taken, c+suffix)
		}
		taken[c] = true
		out.Columns = append(out.Columns, c)
		rightCols = append(rightCols, i)
	}

	byKey := make(map[string][]int, len(right.Rows))
	for r, row := range right.Rows {
		k := joinKey(row, rk)
		byKey[k] = append(byKey[k], r)
	}

	matched := make([]bool, len(right.Rows))
	for _, lrow := range left.Rows {
		hits := byKey[joinKey(lrow, lk)]
		if len(hits) == 0 {
			out.Append(lrow...)
			continue
		}
		for _, r := range hits {
			matched[r] = true
			row := append(append([]string(nil), lrow...), pick(right.Rows[r], rightCols)...)
			out.Append(row...)
		}
	}
	for r, rrow := range right.Rows {
		if matched[r] {
			continue
		}
		row := make([]string, len(left.Columns))
		for k, li := range lk {
			row[li] = rrow[rk[k]]
		}
		out.Append(append(row, pick(rrow, rightCols)...)...)
	}
	return out, nil
}

// ConcatColumns places b to the right of a, aligning rows by position.
// The shorter side is padded with empty values.
func ConcatColumns(a, b *Table) *Table {
	out := New(append(append([]string(nil), a.Columns...), b.Columns...)...)
	n := max(a.Len(), b.Len())
	for r := 0; r < n; r++ {
		row := make([]string, 0, out.Width())
		row = append(row, rowOrBlank(a, r)...)
		row = append(row, rowOrBlank(b, r)...)
		out.Append(row...)
	}
	return out
}

// AppendRows stacks t under acc and returns acc. Columns are the union of
// both in order of first appearance; values missing on one side are empty.
// A name repeated in t maps its k-th occurrence to the k-th occurrence in
// acc. acc is extended in place; a nil acc starts a new table. t is not
// modified.
func AppendRows(acc, t *Table) *Table {
	if acc == nil {
		acc = New()
	}
	if t == nil {
		return acc
	}
	out := acc
	pos := make([]int, len(t.Columns))
	seen := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		j := nthIndex(out.Columns, c, seen[c])
		seen[c]++
		if j < 0 {
			out.Columns = append(out.Columns, c)
			j = len(out.Columns) - 1
		}
		pos[i] = j
	}
	for i, r := range out.Rows {
		out.Rows[i] = append(r, make([]string, len(out.Columns)-len(r))...)
	}
	for _, r := range t.Rows {
		row := make([]string, len(out.Columns))
		for i, v := range r {
			row[pos[i]] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// nthIndex returns the position of the n-th (0-based) column called name.
func nthIndex(columns []string, name string, n int) int {
	for i, c := range columns {
		if c != name {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	return -1
}

func uniqueName(taken map[string]bool, name string) string {
	cand := name
	for k := 1; taken[cand]; k++ {
		cand = fmt.Sprintf("%s.%d", name, k)
	}
	return cand
}

func keyIndexes(t *Table, keys []string) ([]int, error) {
	out := make([]int, len(keys))
	for i, k := range keys {
		j := t.Index(k)
		if j < 0 {
			return nil, eris.Errorf("missing key column %q", k)
		}
		out[i] = j
	}
	return out, nil
}

func joinKey(row []string, idx []int) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = row[j]
	}
	return strings.Join(parts, "\x1f")
}

func pick(row []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}

func rowOrBlank(t *Table, r int) []string {
	if r < t.Len() {
		return t.Rows[r]
	}
	return make([]string, t.Width())
}
