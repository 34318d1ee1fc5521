package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTableName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vgsales", "vgsales"},
		{"Sales Data 2024", "sales_data_2024"},
		{"2024-report", "table_2024_report"},
		{"weird!!chars##", "weird__chars__"},
		{"", "table_unnamed"},
		{"_already_ok", "_already_ok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanTableName(tt.in), "input %q", tt.in)
	}
}

func TestCleanColumnName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Total Amount", "total_amount"},
		{"Sale--Date", "sale_date"},
		{"  spaced  ", "spaced"},
		{"3rd_quarter", "col_3rd_quarter"},
		{"___", "unnamed_column"},
		{"", "unnamed_column"},
		{"Región", "regi_n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanColumnName(tt.in), "input %q", tt.in)
	}
}

func TestCleanColumnNameIdempotent(t *testing.T) {
	for _, in := range []string{"Total Amount", "3rd_quarter", "plain", "A  B  C"} {
		once := CleanColumnName(in)
		assert.Equal(t, once, CleanColumnName(once))
	}
}
