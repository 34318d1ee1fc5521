package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querysight/internal/catalog"
)

func salesSnapshot() *catalog.Snapshot {
	return &catalog.Snapshot{
		Tables: map[string]catalog.TableSchema{
			"sales": {
				TableName: "sales",
				Columns: []catalog.ColumnInfo{
					{Name: "sale_id", Type: "INTEGER"},
					{Name: "product_id", Type: "INTEGER"},
					{Name: "region", Type: "TEXT"},
					{Name: "sale_date", Type: "TEXT"},
					{Name: "total_amount", Type: "REAL"},
					{Name: "quantity", Type: "INTEGER"},
				},
				ForeignKeys: []catalog.ForeignKey{
					{Column: "product_id", RefTable: "products", RefColumn: "product_id"},
				},
			},
			"products": {
				TableName: "products",
				Columns: []catalog.ColumnInfo{
					{Name: "product_id", Type: "INTEGER"},
					{Name: "category", Type: "TEXT"},
					{Name: "brand", Type: "TEXT"},
				},
			},
		},
	}
}

func findMapping(ms []Mapping, term, path string) (Mapping, bool) {
	for _, m := range ms {
		if m.Term == term && m.FullPath == path {
			return m, true
		}
	}
	return Mapping{}, false
}

func TestMapFieldsExactColumn(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"region"})

	m, ok := findMapping(res.Mappings, "region", "sales.region")
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, MatchExact, m.Kind)
}

func TestMapFieldsExactTable(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"sales"})

	m, ok := findMapping(res.Mappings, "sales", "sales")
	require.True(t, ok)
	assert.Equal(t, "*", m.Column)
	assert.Equal(t, MatchExact, m.Kind)
}

func TestMapFieldsSingularMatchesTable(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"product"})

	_, ok := findMapping(res.Mappings, "product", "products")
	assert.True(t, ok)
}

func TestMapFieldsFuzzy(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"regon"})

	m, ok := findMapping(res.Mappings, "regon", "sales.region")
	require.True(t, ok)
	assert.Equal(t, MatchFuzzy, m.Kind)
	assert.GreaterOrEqual(t, m.Confidence, fuzzyMinConfidence)
	assert.Less(t, m.Confidence, 1.0)
}

func TestMapFieldsSemantic(t *testing.T) {
	// "qty" resolves to canonical "quantity", which names a sales column.
	res := MapFields(salesSnapshot(), []string{"qty"})

	m, ok := findMapping(res.Mappings, "qty", "sales.quantity")
	require.True(t, ok)
	assert.Equal(t, MatchSemantic, m.Kind)
	assert.Equal(t, semanticConfidence, m.Confidence)
}

func TestMapFieldsDedupeKeepsBest(t *testing.T) {
	// "quantity" maps exactly and semantically to the same path; the exact
	// mapping must win.
	res := MapFields(salesSnapshot(), []string{"quantity"})

	m, ok := findMapping(res.Mappings, "quantity", "sales.quantity")
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, MatchExact, m.Kind)
}

func TestMapFieldsSuggestsRelatedTables(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"region"})
	assert.Equal(t, []string{"products", "sales"}, res.SuggestedTables)
}

func TestMapFieldsUnmapped(t *testing.T) {
	res := MapFields(salesSnapshot(), []string{"zzz", "region"})
	assert.Equal(t, []string{"zzz"}, res.UnmappedTerms)
}

func TestMapFieldsDeterministicOrder(t *testing.T) {
	terms := []string{"sales", "region", "quantity", "product"}
	first := MapFields(salesSnapshot(), terms)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, MapFields(salesSnapshot(), terms))
	}
}
