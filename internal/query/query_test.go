package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []string
		where   string
		order   string
		limit   string
		want    string
	}{
		{
			name:    "limit goes after SELECT and tautology is dropped",
			table:   "T",
			columns: []string{"A", "B"},
			where:   "1=1",
			limit:   "TOP 5",
			want:    "SELECT TOP 5 A, B FROM T",
		},
		{
			name:    "where and order",
			table:   "T",
			columns: []string{"*"},
			where:   "X > 1",
			order:   "ORDER BY X DESC",
			want:    "SELECT * FROM T WHERE X > 1 ORDER BY X DESC",
		},
		{
			name:  "no columns",
			table: "ProductUsage",
			want:  "SELECT * FROM ProductUsage",
		},
		{
			name:    "spaced tautology",
			table:   "T",
			columns: []string{"A"},
			where:   " 1 = 1 ",
			want:    "SELECT A FROM T",
		},
		{
			name:    "clause containing the tautology is kept",
			table:   "T",
			columns: []string{"A"},
			where:   "1=1 AND A = 2",
			want:    "SELECT A FROM T WHERE 1=1 AND A = 2",
		},
		{
			name:    "everything",
			table:   "ProductUsage",
			columns: []string{"Month", "Product", "RequestCount"},
			where:   "Month LIKE '2025-08%'",
			order:   "ORDER BY RequestCount DESC",
			limit:   "TOP 10",
			want:    "SELECT TOP 10 Month, Product, RequestCount FROM ProductUsage WHERE Month LIKE '2025-08%' ORDER BY RequestCount DESC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildSelect(tt.table, tt.columns, tt.where, tt.order, tt.limit))
		})
	}
}

func TestBuildSelect_DoesNotMutateColumns(t *testing.T) {
	columns := []string{"A", "B"}
	BuildSelect("T", columns, "", "", "")
	assert.Equal(t, []string{"A", "B"}, columns)
}

func TestExplain(t *testing.T) {
	t.Run("tautology suppressed", func(t *testing.T) {
		spec := &ParsedQuerySpec{
			TableName:   "ProductUsage",
			Columns:     []string{"Month", "Product"},
			WhereClause: "1=1",
			OrderClause: "ORDER BY RequestCount DESC",
			LimitClause: "TOP 3",
		}

		exp := Explain(spec)
		assert.Equal(t, "SELECT TOP 3 Month, Product FROM ProductUsage ORDER BY RequestCount DESC", exp.SQL)
		assert.Nil(t, exp.Components.Filters)
		require.NotNil(t, exp.Components.Ordering)
		assert.Equal(t, "ORDER BY RequestCount DESC", *exp.Components.Ordering)
		require.NotNil(t, exp.Components.Limit)
		assert.Equal(t, "TOP 3", *exp.Components.Limit)
		assert.NotContains(t, exp.Description, "1=1")
		assert.Contains(t, exp.Description, "rule-based")
	})

	t.Run("real filter kept", func(t *testing.T) {
		spec := &ParsedQuerySpec{
			TableName:   "ProductUsage",
			Columns:     []string{"*"},
			WhereClause: "OS = 'Linux'",
			AIParsed:    true,
		}

		exp := Explain(spec)
		require.NotNil(t, exp.Components.Filters)
		assert.Equal(t, "OS = 'Linux'", *exp.Components.Filters)
		assert.Nil(t, exp.Components.Ordering)
		assert.Nil(t, exp.Components.Limit)
		assert.Contains(t, exp.Description, "all columns")
		assert.Contains(t, exp.Description, "AI parsing")
	})
}

func TestSafetyChecker_ValidateQuery(t *testing.T) {
	sc := NewSafetyChecker()

	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"plain select", "SELECT TOP 5 * FROM ProductUsage", false},
		{"leading whitespace and case", "  select Month from ProductUsage", false},
		{"drop", "DROP TABLE X", true},
		{"not a select", "EXEC sp_who", true},
		{"delete hidden after select", "SELECT 1; DELETE FROM ProductUsage", true},
		{"substring match inside identifier", "SELECT LastUpdated FROM T", true},
		{"empty", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sc.ValidateQuery(tt.sql)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeDisallowedQuery, apperrors.CodeOf(err))
		})
	}
}

func TestSafetyChecker_MaxLength(t *testing.T) {
	sc := NewSafetyChecker()
	sc.MaxQueryLength = 20

	err := sc.ValidateQuery("SELECT * FROM ProductUsage")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDisallowedQuery, apperrors.CodeOf(err))
}

func TestSafetyChecker_ValidateClause(t *testing.T) {
	sc := NewSafetyChecker()

	assert.NoError(t, sc.ValidateClause("where", "HttpMethod = 'DELETE'"))
	assert.Error(t, sc.ValidateClause("where", "1=1; DROP TABLE T"))
	assert.Error(t, sc.ValidateClause("order", "ORDER BY A -- trailing"))
	assert.Error(t, sc.ValidateClause("where", "A = 1 /* c */"))
}
