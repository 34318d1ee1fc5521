package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSelect(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"plain select", "SELECT region, SUM(total_amount) FROM sales GROUP BY region", true},
		{"lowercase select", "select * from sales limit 10", true},
		{"leading whitespace", "  \n SELECT 1 FROM sales", true},
		{"subquery", "SELECT x FROM (SELECT region as x FROM sales)", true},
		{"updated_at column is fine", "SELECT updated_at FROM sales", true},
		{"empty", "", false},
		{"not a select", "PRAGMA table_info(sales)", false},
		{"missing from", "SELECT 1", false},
		{"drop", "SELECT * FROM sales; DROP TABLE sales", false},
		{"delete", "SELECT * FROM sales WHERE 1=1; DELETE FROM sales", false},
		{"update keyword", "SELECT * FROM sales WHERE note = 'x' UPDATE", false},
		{"insert", "SELECT * FROM sales; INSERT INTO sales VALUES (1)", false},
		{"truncate", "SELECT * FROM sales TRUNCATE", false},
		{"alter", "SELECT * FROM sales ALTER TABLE", false},
		{"create", "SELECT * FROM sales; CREATE TABLE t (x)", false},
		{"exec", "SELECT * FROM sales EXEC", false},
		{"unbalanced open", "SELECT SUM(total_amount FROM sales", false},
		{"unbalanced close", "SELECT x) FROM sales", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSelect(tc.sql)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsafeSQL))
			}
		})
	}
}

func TestDangerousWordsAreWholeWords(t *testing.T) {
	// Substrings of safe identifiers must not trip the gate.
	assert.NoError(t, ValidateSelect("SELECT created_at, dropoff_zone FROM rides"))
	assert.NoError(t, ValidateSelect("SELECT executive_summary FROM reports"))
}
