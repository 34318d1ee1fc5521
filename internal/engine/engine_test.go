package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"querysight/internal/catalog"
	"querysight/internal/llm"
	"querysight/internal/sqlitedrv"
)

func newTestEngine(t *testing.T, client llm.Client) (*Engine, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	db, err := sqlitedrv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat := catalog.New(db, path, time.Hour, zap.NewNop())
	return New(db, cat, client, 5*time.Minute, zap.NewNop()), db
}

func seedSalesData(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE products (
			product_id INTEGER PRIMARY KEY,
			category TEXT,
			brand TEXT,
			status TEXT
		)`,
		`CREATE TABLE sales (
			sale_id INTEGER PRIMARY KEY,
			product_id INTEGER REFERENCES products(product_id),
			user_id INTEGER,
			region TEXT,
			sales_channel TEXT,
			sale_date TEXT,
			quantity INTEGER,
			total_amount REAL,
			discount_amount REAL
		)`,
		`INSERT INTO products VALUES
			(1, 'Electronics', 'Acme', 'active'),
			(2, 'Toys', 'Zulu', 'active')`,
		`INSERT INTO sales VALUES
			(1, 1, 10, 'North', 'web', '2025-01-15', 2, 200.0, 10.0),
			(2, 1, 11, 'North', 'store', '2025-02-20', 1, 100.0, 0.0),
			(3, 2, 12, 'South', 'web', '2025-02-25', 3, 60.0, 5.0),
			(4, 2, 10, 'South', 'web', '2025-03-05', 1, 40.0, 0.0)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestExecuteSummary(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	ds, err := eng.Execute(context.Background(), ResolvedIntent{
		IntentType: IntentSummary, Metric: "revenue",
	})
	require.NoError(t, err)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, float64(400), ds.Rows[0]["value"])
	assert.False(t, ds.CacheHit)
	assert.Equal(t, "Revenue", ds.ChartConfig.Title)
}

func TestExecuteComparisonOrdersDescending(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	ds, err := eng.Execute(context.Background(), ResolvedIntent{
		IntentType: IntentComparison, Metric: "revenue", Dimension: "region",
	})
	require.NoError(t, err)

	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "North", ds.Rows[0]["region"])
	assert.Equal(t, float64(300), ds.Rows[0]["revenue"])
	assert.Equal(t, "South", ds.Rows[1]["region"])
	assert.Equal(t, float64(100), ds.Rows[1]["revenue"])
	assert.Equal(t, 20, ds.ChartConfig.LimitApplied)
}

func TestExecuteTrendByMonth(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	ds, err := eng.Execute(context.Background(), ResolvedIntent{
		IntentType: IntentTrend, Metric: "orders", Dimension: "month",
		ChartTypeHint: "line",
	})
	require.NoError(t, err)

	require.Len(t, ds.Rows, 3)
	assert.Equal(t, "2025-01", ds.Rows[0]["month"])
	assert.Equal(t, "2025-02", ds.Rows[1]["month"])
	assert.Equal(t, "2025-03", ds.Rows[2]["month"])
	assert.Equal(t, float64(2), ds.Rows[1]["orders"])
	assert.Equal(t, "line", ds.ChartConfig.ChartType)
	assert.Equal(t, "Orders by Month", ds.ChartConfig.Title)
}

func TestExecuteJoinedDimension(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	ds, err := eng.Execute(context.Background(), ResolvedIntent{
		IntentType: IntentComparison, Metric: "quantity", Dimension: "category",
	})
	require.NoError(t, err)

	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "Toys", ds.Rows[0]["category"])
	assert.Equal(t, float64(4), ds.Rows[0]["quantity"])
}

func TestExecuteCacheHit(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	intent := ResolvedIntent{IntentType: IntentSummary, Metric: "revenue"}

	first, err := eng.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := eng.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.SQL, second.SQL)

	// The hit flag must not leak back into the stored entry.
	cached, ok := eng.CacheLookup(CacheKey(intent))
	require.True(t, ok)
	assert.True(t, cached.CacheHit)
	third, err := eng.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
}

func TestExecuteEmptyCatalog(t *testing.T) {
	eng, _ := newTestEngine(t, llm.NewMock())

	_, err := eng.Execute(context.Background(), ResolvedIntent{
		IntentType: IntentSummary, Metric: "revenue",
	})
	assert.True(t, errors.Is(err, ErrNoCatalog))
}

func TestRepairFixesBadColumn(t *testing.T) {
	mock := llm.NewMock(
		`{"sql_query": "SELECT products.category as category, SUM(total_amount) as revenue FROM sales LEFT JOIN products ON sales.product_id = products.product_id GROUP BY products.category"}`,
	)
	eng, db := newTestEngine(t, mock)
	seedSalesData(t, db)

	bad := "SELECT products.cat as category, SUM(total_amount) as revenue " +
		"FROM sales LEFT JOIN products ON sales.product_id = products.product_id " +
		"GROUP BY products.cat"

	result, err := eng.executeWithRepair(context.Background(), bad)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	require.Equal(t, 1, mock.Calls())
	assert.Contains(t, mock.Prompts[0], "products.cat")
	assert.Contains(t, mock.Prompts[0], "no such column")
	assert.Contains(t, mock.Prompts[0], "AVAILABLE TABLES AND COLUMNS")
}

func TestRepairRejectsUnsafeReplacement(t *testing.T) {
	mock := llm.NewMock(`{"sql_query": "DROP TABLE sales"}`)
	eng, db := newTestEngine(t, mock)
	seedSalesData(t, db)

	_, err := eng.executeWithRepair(context.Background(),
		"SELECT missing_col FROM sales")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeSQL))

	// The table must survive.
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sales").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestRepairExhaustsAttempts(t *testing.T) {
	mock := llm.NewMock(`{"sql_query": "SELECT still_missing FROM sales"}`)
	eng, db := newTestEngine(t, mock)
	seedSalesData(t, db)

	_, err := eng.executeWithRepair(context.Background(),
		"SELECT missing_col FROM sales")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 2, mock.Calls())
}

func TestUnsafeStatementSkipsRepair(t *testing.T) {
	mock := llm.NewMock()
	eng, db := newTestEngine(t, mock)
	seedSalesData(t, db)

	_, err := eng.executeWithRepair(context.Background(), "DELETE FROM sales")
	assert.True(t, errors.Is(err, ErrUnsafeSQL))
	assert.Equal(t, 0, mock.Calls())
}

func TestExecuteRawNoRepair(t *testing.T) {
	mock := llm.NewMock()
	eng, db := newTestEngine(t, mock)
	seedSalesData(t, db)

	result, err := eng.ExecuteRaw(context.Background(),
		"SELECT region FROM sales WHERE region = 'North'")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)

	_, err = eng.ExecuteRaw(context.Background(), "SELECT nope FROM sales")
	assert.Error(t, err)
	assert.Equal(t, 0, mock.Calls())
}

func TestSchemaContextListsTables(t *testing.T) {
	eng, db := newTestEngine(t, llm.NewMock())
	seedSalesData(t, db)

	text, err := eng.SchemaContext(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "Table: products")
	assert.Contains(t, text, "Table: sales")
	assert.Contains(t, text, "total_amount (REAL)")
}
