package tools

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
	"github.com/JackTn/azure-sdk-usage-agent/internal/parser"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
	"github.com/JackTn/azure-sdk-usage-agent/internal/sqlexec"
)

// recordingExecutor remembers every statement it receives
type recordingExecutor struct {
	mu     sync.Mutex
	result *sqlexec.Result
	err    error
	calls  []string
}

func (r *recordingExecutor) Execute(ctx context.Context, sql string) (*sqlexec.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sql)
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &sqlexec.Result{
		Columns: []string{"Month", "RequestCount"},
		Rows:    [][]interface{}{{"2025-08", 12.0}, {"2025-07", 7.0}},
	}, nil
}

func (r *recordingExecutor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// memorySource keeps the last written document
type memorySource struct {
	mu  sync.Mutex
	doc map[string]interface{}
}

func (m *memorySource) Name() string { return "memory" }

func (m *memorySource) Read(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, alias.ErrSourceNotFound
	}
	data, err := alias.Marshal(m.doc, alias.FormatJSON)
	if err != nil {
		return nil, err
	}
	return alias.Unmarshal(data, alias.FormatJSON)
}

func (m *memorySource) Write(ctx context.Context, doc map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, time.August, 14, 10, 0, 0, 0, time.UTC)
}

func testCatalog() *schema.Catalog {
	return schema.NewCatalog(
		schema.Table{
			Name:        "ProductUsage",
			Description: "Monthly request counts per SDK product",
			Enabled:     true,
			Columns: []schema.Column{
				{Name: "Month", Type: "string", Description: "YYYY-MM"},
				{Name: "Product", Type: "string", Enum: []string{"Python-SDK", "Go-SDK", "JavaScript"}},
				{Name: "OS", Type: "string", Enum: []string{"Windows", "Linux"}},
				{Name: "HttpMethod", Type: "string", Enum: []string{"GET", "DELETE"}},
				{Name: "Provider", Type: "string"},
				{Name: "RequestCount", Type: "integer"},
			},
		},
		schema.Table{
			Name:    "Legacy",
			Enabled: false,
			Columns: []schema.Column{{Name: "Month"}},
		},
	)
}

func testConfiguration() *alias.Configuration {
	cfg := alias.NewEmptyConfiguration()
	cfg.Metadata = map[string]interface{}{
		"version":      "1.0.0",
		"last_updated": "2025-08-28",
		"description":  "tool tests",
	}
	cfg.Categories[alias.CategoryProduct] = map[string][]string{
		"python": {"Python-SDK"},
		"py":     {"Python-SDK"},
		"golang": {"Go-SDK"},
		"js":     {"JavaScript"},
	}
	cfg.Categories[alias.CategoryOS] = map[string][]string{
		"win":     {"Windows"},
		"windows": {"Windows"},
		"ubuntu":  {"Linux"},
	}
	cfg.Categories[alias.CategoryHTTPMethod] = map[string][]string{
		"remove": {"DELETE"},
		"fetch":  {"GET"},
	}
	cfg.Categories[alias.CategoryProvider] = map[string][]string{
		"compute": {"Microsoft.Compute"},
	}
	cfg.Categories[alias.CategoryResource] = map[string][]string{
		"vm": {"virtualMachines"},
	}
	cfg.Categories[alias.CategoryTime] = map[string][]string{
		"recently": {"ORDER BY Month DESC"},
	}
	cfg.Categories[alias.CategoryQuantity] = map[string][]string{
		"most": {"ORDER BY RequestCount DESC"},
	}
	cfg.Categories[alias.CategoryComparison] = map[string][]string{
		"more than": {">"},
	}
	return cfg
}

type fixture struct {
	toolset  *Toolset
	executor *recordingExecutor
	store    *alias.Store
	source   *memorySource
}

func newFixture(t *testing.T, provider schema.Provider) *fixture {
	t.Helper()

	source := &memorySource{}
	store := alias.NewStoreFromConfiguration(source, testConfiguration(),
		alias.WithLogger(observability.NewLogger("test").WithOutput(io.Discard)),
		alias.WithClock(fixedClock))
	matcher := alias.NewMatcher(store)
	rules := parser.NewRuleParser(provider, fixedClock)
	orchestrator := parser.NewOrchestrator(nil, rules, nil, parser.DefaultOptions())
	executor := &recordingExecutor{}

	toolset := NewToolset(Dependencies{
		Store:        store,
		Matcher:      matcher,
		Schema:       provider,
		Orchestrator: orchestrator,
		Executor:     executor,
		Now:          fixedClock,
	})
	return &fixture{toolset: toolset, executor: executor, store: store, source: source}
}

func requireFailure(t *testing.T, result *Result, code apperrors.ErrorCode) {
	t.Helper()
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, code, result.Error.Code)
	assert.Nil(t, result.Data)
}

func TestExecuteSQLQueryDirect(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantCode apperrors.ErrorCode
	}{
		{"drop refused", "DROP TABLE ProductUsage", apperrors.ErrCodeDisallowedQuery},
		{"stacked delete refused", "SELECT * FROM ProductUsage; DELETE FROM ProductUsage", apperrors.ErrCodeDisallowedQuery},
		{"keyword inside identifier refused", "SELECT LastUpdated FROM ProductUsage", apperrors.ErrCodeDisallowedQuery},
		{"non-select refused", "EXEC sp_who", apperrors.ErrCodeDisallowedQuery},
		{"empty refused", "   ", apperrors.ErrCodeDisallowedQuery},
		{"select allowed", "  select Month, RequestCount from ProductUsage  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testCatalog())
			result := f.toolset.ExecuteSQLQueryDirect(context.Background(), tt.sql)

			if tt.wantCode != "" {
				requireFailure(t, result, tt.wantCode)
				assert.Empty(t, f.executor.Calls(), "refused statements must not reach the executor")
				return
			}

			require.True(t, result.Success)
			assert.Equal(t, []string{"select Month, RequestCount from ProductUsage"}, f.executor.Calls())
			assert.Equal(t, "select Month, RequestCount from ProductUsage", result.Data["query"])
			assert.Equal(t, 2, result.Data["row_count"])
			assert.Equal(t, []string{"Month", "RequestCount"}, result.Data["columns"])
			records := result.Data["data"].([]map[string]interface{})
			assert.Equal(t, map[string]interface{}{"Month": "2025-08", "RequestCount": 12.0}, records[0])
		})
	}
}

func TestExecuteSQLQueryDirect_BackendFailure(t *testing.T) {
	f := newFixture(t, testCatalog())
	f.executor.err = apperrors.NewQueryExecutionError(errors.New("connection refused"))

	result := f.toolset.ExecuteSQLQueryDirect(context.Background(), "SELECT * FROM ProductUsage")
	requireFailure(t, result, apperrors.ErrCodeQueryExecutionFailed)
	assert.Error(t, result.Err())
}

func TestExecuteSQLQueryDirect_NoExecutor(t *testing.T) {
	toolset := NewToolset(Dependencies{Schema: testCatalog()})
	result := toolset.ExecuteSQLQueryDirect(context.Background(), "SELECT 1")
	requireFailure(t, result, apperrors.ErrCodeQueryExecutionFailed)
}

func TestExecuteSQLQuery(t *testing.T) {
	tests := []struct {
		name     string
		req      ExecuteRequest
		wantCode apperrors.ErrorCode
		wantSQL  string
	}{
		{
			name:     "missing table",
			req:      ExecuteRequest{Columns: []string{"Month"}},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name:     "missing columns",
			req:      ExecuteRequest{TableName: "ProductUsage"},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name:     "disabled table",
			req:      ExecuteRequest{TableName: "Legacy", Columns: []string{"Month"}},
			wantCode: apperrors.ErrCodeTableNotFound,
		},
		{
			name:     "unknown table",
			req:      ExecuteRequest{TableName: "Nope", Columns: []string{"Month"}},
			wantCode: apperrors.ErrCodeTableNotFound,
		},
		{
			name: "statement separator in where",
			req: ExecuteRequest{
				TableName:   "ProductUsage",
				Columns:     []string{"Month"},
				WhereClause: "1=1; DROP TABLE ProductUsage",
			},
			wantCode: apperrors.ErrCodeDisallowedQuery,
		},
		{
			name: "comment in order",
			req: ExecuteRequest{
				TableName:   "ProductUsage",
				Columns:     []string{"Month"},
				OrderClause: "ORDER BY Month -- trailing",
			},
			wantCode: apperrors.ErrCodeDisallowedQuery,
		},
		{
			name: "tautology is dropped",
			req: ExecuteRequest{
				TableName:   "ProductUsage",
				Columns:     []string{"Month", "RequestCount"},
				WhereClause: "1=1",
				OrderClause: "ORDER BY RequestCount DESC",
				LimitClause: "TOP 5",
			},
			wantSQL: "SELECT TOP 5 Month, RequestCount FROM ProductUsage ORDER BY RequestCount DESC",
		},
		{
			name: "filter values are not keyword screened",
			req: ExecuteRequest{
				TableName:   "productusage",
				Columns:     []string{"HttpMethod", "RequestCount"},
				WhereClause: "HttpMethod = 'DELETE'",
			},
			wantSQL: "SELECT HttpMethod, RequestCount FROM ProductUsage WHERE HttpMethod = 'DELETE'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testCatalog())
			result := f.toolset.ExecuteSQLQuery(context.Background(), tt.req)

			if tt.wantCode != "" {
				requireFailure(t, result, tt.wantCode)
				assert.Empty(t, f.executor.Calls())
				return
			}

			require.True(t, result.Success, "unexpected error: %v", result.Err())
			assert.Equal(t, []string{tt.wantSQL}, f.executor.Calls())
			assert.Equal(t, tt.wantSQL, result.Data["query"])
			assert.Equal(t, "ProductUsage", result.Data["table_used"])
			assert.Equal(t, 2, result.Data["row_count"])
		})
	}
}

func TestExecuteSQLQuery_QueryComponents(t *testing.T) {
	f := newFixture(t, testCatalog())
	result := f.toolset.ExecuteSQLQuery(context.Background(), ExecuteRequest{
		TableName:   "ProductUsage",
		Columns:     []string{"Month"},
		WhereClause: "Month LIKE '2025-08%'",
	})
	require.True(t, result.Success)

	components := result.Data["query_components"].(map[string]interface{})
	assert.Equal(t, "ProductUsage", components["table"])
	assert.Equal(t, []string{"Month"}, components["columns"])
	assert.Equal(t, "Month LIKE '2025-08%'", components["where"])
	assert.Equal(t, "None", components["order"])
	assert.Equal(t, "None", components["limit"])
}

func TestGetSampleData(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		limit     int
		wantSQL   string
		wantLimit int
		wantCode  apperrors.ErrorCode
	}{
		{"default limit", "ProductUsage", 0, "SELECT TOP 5 * FROM ProductUsage", 5, ""},
		{"explicit limit", "productusage", 3, "SELECT TOP 3 * FROM ProductUsage", 3, ""},
		{"limit is capped", "ProductUsage", 5000, "SELECT TOP 100 * FROM ProductUsage", 100, ""},
		{"unknown table", "Nope", 5, "", 0, apperrors.ErrCodeTableNotFound},
		{"disabled table", "Legacy", 5, "", 0, apperrors.ErrCodeTableNotFound},
		{"injection in table name", "ProductUsage; DROP TABLE x", 5, "", 0, apperrors.ErrCodeTableNotFound},
		{"empty table", "", 5, "", 0, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testCatalog())
			result := f.toolset.GetSampleData(context.Background(), tt.table, tt.limit)

			if tt.wantCode != "" {
				requireFailure(t, result, tt.wantCode)
				assert.Empty(t, f.executor.Calls())
				return
			}

			require.True(t, result.Success)
			assert.Equal(t, []string{tt.wantSQL}, f.executor.Calls())
			assert.Equal(t, "ProductUsage", result.Data["table_name"])
			assert.Equal(t, tt.wantLimit, result.Data["limit"])
		})
	}
}

func TestParseUserQuery(t *testing.T) {
	f := newFixture(t, testCatalog())

	result := f.toolset.ParseUserQuery(context.Background(), "top 5 python usage this month")
	require.True(t, result.Success, "unexpected error: %v", result.Err())

	assert.Equal(t, "ProductUsage", result.Data["table_name"])
	assert.Equal(t, []string{"Month", "Product", "RequestCount"}, result.Data["columns"])
	assert.Equal(t, "Month LIKE '2025-08%'", result.Data["where_clause"])
	assert.Equal(t, "ORDER BY RequestCount DESC", result.Data["order_clause"])
	assert.Equal(t, "TOP 5", result.Data["limit_clause"])
	assert.Equal(t,
		"SELECT TOP 5 Month, Product, RequestCount FROM ProductUsage WHERE Month LIKE '2025-08%' ORDER BY RequestCount DESC",
		result.Data["sql"])
	assert.Equal(t, "fallback", result.Data["outcome"])
	assert.Equal(t, parser.ReasonAIDisabled, result.Data["fallback_reason"])
	assert.Equal(t, true, result.Data["fallback_used"])

	entities := result.Data["entities"].(map[string][]string)
	assert.Equal(t, []string{"Python-SDK"}, entities[alias.CategoryProduct])

	assert.Empty(t, f.executor.Calls(), "parsing never executes")
}

func TestParseUserQuery_TautologyBecomesEmpty(t *testing.T) {
	f := newFixture(t, testCatalog())

	result := f.toolset.ParseUserQuery(context.Background(), "product usage by month")
	require.True(t, result.Success)
	assert.Equal(t, "", result.Data["where_clause"])
	assert.Equal(t, "SELECT Month, Product, RequestCount FROM ProductUsage", result.Data["sql"])
}

func TestParseUserQuery_Failures(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		f := newFixture(t, testCatalog())
		requireFailure(t, f.toolset.ParseUserQuery(context.Background(), "  "), apperrors.ErrCodeMissingRequired)
	})

	t.Run("no tables", func(t *testing.T) {
		f := newFixture(t, schema.NewCatalog())
		result := f.toolset.ParseUserQuery(context.Background(), "python usage")
		requireFailure(t, result, apperrors.ErrCodeNoTablesAvailable)
		assert.NotEmpty(t, result.Suggestions)
	})
}

func TestSuggestQueryStructure(t *testing.T) {
	f := newFixture(t, testCatalog())

	result := f.toolset.SuggestQueryStructure(context.Background(), "golang product usage")
	require.True(t, result.Success)

	assert.Equal(t, "SELECT Month, Product, RequestCount FROM ProductUsage", result.Data["suggested_sql"])
	assert.Contains(t, result.Data["explanation"], "rule-based parsing")

	components := result.Data["components"].(query.Components)
	assert.Equal(t, "ProductUsage", components.Table)
	assert.Nil(t, components.Filters, "the 1=1 filter is not shown")

	entities := result.Data["entities"].(map[string][]string)
	assert.Equal(t, []string{"Go-SDK"}, entities[alias.CategoryProduct])
	assert.Empty(t, f.executor.Calls())
}

func TestSuggestQueryStructure_Failure(t *testing.T) {
	f := newFixture(t, schema.NewCatalog())
	result := f.toolset.SuggestQueryStructure(context.Background(), "anything")
	requireFailure(t, result, apperrors.ErrCodeNoTablesAvailable)
	assert.Len(t, result.Suggestions, 3)
}

func TestGetAvailableTablesAndColumns(t *testing.T) {
	f := newFixture(t, testCatalog())

	result := f.toolset.GetAvailableTablesAndColumns(context.Background())
	require.True(t, result.Success)

	tables := result.Data["tables"].([]TableInfo)
	require.Len(t, tables, 1, "disabled tables are not listed")
	table := tables[0]
	assert.Equal(t, "ProductUsage", table.TableName)
	assert.Len(t, table.SampleQueries, 5)
	assert.Contains(t, table.SampleQueries, "SELECT * FROM ProductUsage WHERE Month LIKE '2025%'")
	assert.Contains(t, table.SampleQueries, "SELECT * FROM ProductUsage WHERE Product LIKE '%Python-SDK%'")

	columns := make(map[string]ColumnInfo)
	for _, c := range table.Columns {
		columns[c.Name] = c
	}

	product := columns["Product"]
	assert.Equal(t, []string{"py", "python"}, product.ProductAliases["Python-SDK"])
	assert.Equal(t, []string{"golang"}, product.ProductAliases["Go-SDK"])
	assert.Equal(t, "py, python → Python-SDK", product.AliasExamples["py"])

	assert.Equal(t, map[string]string{"Windows": "win, windows", "Linux": "ubuntu"}, columns["OS"].CommonAliases)
	assert.Equal(t, map[string]string{"DELETE": "remove", "GET": "fetch"}, columns["HttpMethod"].CommonAliases)
	assert.Equal(t, map[string]string{"compute": "Microsoft.Compute"}, columns["Provider"].CommonPatterns)
	assert.Equal(t, "string", columns["Month"].Type)

	global := result.Data["global_aliases"].(map[string]interface{})
	patterns := global["common_patterns"].(map[string]interface{})
	timeExpressions := patterns["time_expressions"].(map[string]string)
	assert.Equal(t, "2025-08", timeExpressions["this_month"])
	assert.Equal(t, "2025-07", timeExpressions["last_month"])
	assert.Equal(t, "ORDER BY Month DESC", timeExpressions["recently"])
	assert.Equal(t, map[string]string{"more than": ">"}, patterns["comparison_expressions"])
}

func TestGetAvailableTablesAndColumns_EnumPreview(t *testing.T) {
	values := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	catalog := schema.NewCatalog(schema.Table{
		Name:    "Wide",
		Enabled: true,
		Columns: []schema.Column{{Name: "Code", Type: "string", Enum: values}},
	})
	f := newFixture(t, catalog)

	result := f.toolset.GetAvailableTablesAndColumns(context.Background())
	require.True(t, result.Success)
	tables := result.Data["tables"].([]TableInfo)
	assert.Equal(t, values[:10], tables[0].Columns[0].EnumValues)
}

func TestGetAvailableTablesAndColumns_NoTables(t *testing.T) {
	f := newFixture(t, schema.NewCatalog())
	requireFailure(t, f.toolset.GetAvailableTablesAndColumns(context.Background()), apperrors.ErrCodeNoTablesAvailable)
}

func TestGetEnumValues(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		wantField  string
		wantValues []string
		wantOpen   bool
		wantCode   apperrors.ErrorCode
	}{
		{name: "exact", field: "Product", wantField: "Product", wantValues: []string{"Python-SDK", "Go-SDK", "JavaScript"}},
		{name: "snake case", field: "http_method", wantField: "HttpMethod", wantValues: []string{"GET", "DELETE"}},
		{name: "synonym", field: "Operating System", wantField: "OS", wantValues: []string{"Windows", "Linux"}},
		{name: "open field", field: "provider", wantField: "provider", wantOpen: true},
		{name: "unknown", field: "nope", wantCode: apperrors.ErrCodeInvalidInput},
		{name: "empty", field: "", wantCode: apperrors.ErrCodeMissingRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testCatalog())
			result := f.toolset.GetEnumValues(context.Background(), tt.field)

			if tt.wantCode != "" {
				requireFailure(t, result, tt.wantCode)
				if tt.wantCode == apperrors.ErrCodeInvalidInput {
					assert.Contains(t, result.Error.Metadata["available_fields"], "trackinfo")
				}
				return
			}

			require.True(t, result.Success)
			assert.Equal(t, tt.wantField, result.Data["field_name"])
			if tt.wantOpen {
				assert.Contains(t, result.Data["message"], "No enum restriction")
				return
			}
			assert.Equal(t, tt.wantValues, result.Data["enum_values"])
			assert.Equal(t, len(tt.wantValues), result.Data["count"])
		})
	}
}
