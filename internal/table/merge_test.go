package table

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tbl(cols []string, rows ...[]string) *Table {
	t := New(cols...)
	for _, r := range rows {
		t.Append(r...)
	}
	return t
}

func TestMergeAttribute_FirstSheetInsertsKeys(t *testing.T) {
	attr := tbl([]string{"Jahr", "Verträge"}, []string{"2020", "5"})

	got, err := MergeAttribute(nil, attr, "a1", "Bankkaufmann", "Bayern")
	require.NoError(t, err)
	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Verträge"}, got.Columns)
	assert.Equal(t, [][]string{{"2020", "Bankkaufmann", "Bayern", "5"}}, got.Rows)
	assert.Equal(t, []string{"Jahr", "Verträge"}, attr.Columns, "input must not be modified")
}

func TestMergeAttribute_JoinsOnSharedKey(t *testing.T) {
	first := tbl([]string{"Jahr", "Verträge"}, []string{"2020", "5"})
	second := tbl([]string{"Jahr", "Lösungen"}, []string{"2020", "2"})

	occ, err := MergeAttribute(nil, first, "a1", "X", "Y")
	require.NoError(t, err)
	occ, err = MergeAttribute(occ, second, "a2", "X", "Y")
	require.NoError(t, err)

	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Verträge", "Lösungen"}, occ.Columns)
	require.Equal(t, 1, occ.Len())
	assert.Equal(t, []string{"2020", "X", "Y", "5", "2"}, occ.Rows[0])
}

func TestMergeAttribute_CollidingColumnsAreSuffixed(t *testing.T) {
	first := tbl([]string{"Jahr", "Insgesamt"}, []string{"2020", "5"})
	second := tbl([]string{"Jahr", "Insgesamt"}, []string{"2020", "9"})

	occ, err := MergeAttribute(nil, first, "a1", "X", "Y")
	require.NoError(t, err)
	occ, err = MergeAttribute(occ, second, "a2", "X", "Y")
	require.NoError(t, err)

	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Insgesamt", "Insgesamt_a2"}, occ.Columns)
	assert.Equal(t, []string{"2020", "X", "Y", "5", "9"}, occ.Rows[0])
}

func TestMergeAttribute_RepeatedSuffixStaysUnique(t *testing.T) {
	var occ *Table
	var err error
	for i, v := range []string{"1", "2", "3"} {
		sheet := tbl([]string{"Jahr", "Wert"}, []string{"2020", v})
		occ, err = MergeAttribute(occ, sheet, "a1", "X", "Y")
		require.NoError(t, err, "sheet %d", i)
	}

	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Wert", "Wert_a1", "Wert_a1.1"}, occ.Columns)
	assert.Equal(t, [][]string{{"2020", "X", "Y", "1", "2", "3"}}, occ.Rows)
}

func TestMergeAttribute_OuterKeepsUnmatchedRows(t *testing.T) {
	first := tbl([]string{"Jahr", "A"}, []string{"2019", "1"}, []string{"2020", "2"})
	second := tbl([]string{"Jahr", "B"}, []string{"2020", "20"}, []string{"2021", "21"})

	occ, err := MergeAttribute(nil, first, "a1", "X", "Y")
	require.NoError(t, err)
	occ, err = MergeAttribute(occ, second, "a2", "X", "Y")
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"2019", "X", "Y", "1", ""},
		{"2020", "X", "Y", "2", "20"},
		{"2021", "X", "Y", "", "21"},
	}, occ.Rows)
}

func TestMergeAttribute_WithoutYearConcatenates(t *testing.T) {
	first := tbl([]string{"Merkmal", "A"}, []string{"m", "1"}, []string{"w", "2"})
	second := tbl([]string{"Jahr", "B"}, []string{"2020", "3"})

	occ, err := MergeAttribute(nil, first, "a1", "X", "Y")
	require.NoError(t, err)
	occ, err = MergeAttribute(occ, second, "a2", "X", "Y")
	require.NoError(t, err)

	assert.Equal(t, []string{"Merkmal", "Beruf", "Region", "A", "Jahr", "Beruf", "Region", "B"}, occ.Columns)
	assert.Equal(t, [][]string{
		{"m", "X", "Y", "1", "2020", "X", "Y", "3"},
		{"w", "X", "Y", "2", "", "", "", ""},
	}, occ.Rows)
}

func TestMergeAttribute_RejectsExistingKeyColumn(t *testing.T) {
	attr := tbl([]string{"Jahr", "Beruf"}, []string{"2020", "x"})
	_, err := MergeAttribute(nil, attr, "a1", "X", "Y")
	assert.Error(t, err)
}

func TestOuterJoin_DuplicateKeysMultiply(t *testing.T) {
	left := tbl([]string{"k", "a"}, []string{"1", "x"}, []string{"1", "y"})
	right := tbl([]string{"k", "b"}, []string{"1", "p"}, []string{"1", "q"})

	got, err := OuterJoin(left, right, []string{"k"}, "_r")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
}

func TestOuterJoin_MissingKey(t *testing.T) {
	_, err := OuterJoin(tbl([]string{"k"}), tbl([]string{"z"}), []string{"k"}, "_r")
	assert.Error(t, err)
}

func TestAppendRows_UnionsColumns(t *testing.T) {
	a := tbl([]string{"Jahr", "A"}, []string{"2020", "1"})
	b := tbl([]string{"Jahr", "B"}, []string{"2020", "2"})

	got := AppendRows(AppendRows(nil, a), b)
	assert.Equal(t, []string{"Jahr", "A", "B"}, got.Columns)
	assert.Equal(t, [][]string{{"2020", "1", ""}, {"2020", "", "2"}}, got.Rows)
	assert.Equal(t, 1, a.Len())
}

func TestAppendRows_DuplicateNamesStaySeparate(t *testing.T) {
	a := tbl([]string{"x", "x"}, []string{"1", "2"})
	got := AppendRows(AppendRows(nil, a), a)
	assert.Equal(t, []string{"x", "x"}, got.Columns)
	assert.Equal(t, [][]string{{"1", "2"}, {"1", "2"}}, got.Rows)
}

func TestAppendRows_RepeatedNamesAlignByOccurrence(t *testing.T) {
	a := tbl([]string{"Jahr", "Wert", "Wert"}, []string{"2020", "1", "2"})
	b := tbl([]string{"Jahr", "Wert", "Wert", "Wert"}, []string{"2021", "3", "4", "5"})
	c := tbl([]string{"Jahr", "Wert", "Wert"}, []string{"2022", "6", "7"})

	got := AppendRows(AppendRows(AppendRows(nil, a), b), c)
	assert.Equal(t, []string{"Jahr", "Wert", "Wert", "Wert"}, got.Columns)
	assert.Equal(t, [][]string{
		{"2020", "1", "2", ""},
		{"2021", "3", "4", "5"},
		{"2022", "6", "7", ""},
	}, got.Rows)
}

func TestCSVRoundTrip(t *testing.T) {
	in := tbl([]string{"Jahr", "Beruf", "Anzahl; gesamt"}, []string{"2020", "Koch, Köchin", "3"}, []string{"2021", "", ""})

	for _, delim := range []rune{',', ';'} {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, in, delim))
		out, err := ReadCSV(&buf, delim)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	out, err := ReadCSV(bytes.NewReader(nil), ',')
	require.NoError(t, err)
	assert.True(t, out.Empty())
}

func TestReadCSV_RaggedIsError(t *testing.T) {
	_, err := ReadCSV(bytes.NewBufferString("a,b\n1\n"), ',')
	assert.Error(t, err)
}

func TestTableInsertClamps(t *testing.T) {
	x := tbl([]string{"Jahr"}, []string{"2020"})
	x.Insert(5, "Beruf", "b")
	assert.Equal(t, []string{"Jahr", "Beruf"}, x.Columns)
	assert.Equal(t, []string{"2020", "b"}, x.Rows[0])
}
