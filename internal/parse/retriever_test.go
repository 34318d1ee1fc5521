package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("show revenue by month")
	assert.Equal(t, []string{"revenue", "month"}, terms)
}

func TestExtractTermsDropsShortWords(t *testing.T) {
	terms := ExtractTerms("q1 vs q2 revenue")
	assert.Equal(t, []string{"revenue"}, terms)
}

func TestScoreTables(t *testing.T) {
	snap := salesSnapshot()

	scored := ScoreTables(snap, []string{"sales", "region"})

	require.Len(t, scored, 1)
	assert.Equal(t, "sales", scored[0].Table)
	// Table-name hit 0.8 plus one column hit 0.5.
	assert.InDelta(t, 1.3, scored[0].Score, 1e-9)
}

func TestScoreTablesColumnOnly(t *testing.T) {
	scored := ScoreTables(salesSnapshot(), []string{"brand"})

	require.Len(t, scored, 1)
	assert.Equal(t, "products", scored[0].Table)
	assert.InDelta(t, 0.5, scored[0].Score, 1e-9)
}

func TestScoreTablesNoHits(t *testing.T) {
	scored := ScoreTables(salesSnapshot(), []string{"weather"})
	assert.Empty(t, scored)
}

func TestScoreTablesOrdering(t *testing.T) {
	scored := ScoreTables(salesSnapshot(), []string{"product"})

	// Both tables hit on "product": products by name and column, sales by
	// column only.
	require.Len(t, scored, 2)
	assert.Equal(t, "products", scored[0].Table)
	assert.Equal(t, "sales", scored[1].Table)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}
