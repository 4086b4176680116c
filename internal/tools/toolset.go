// Package tools exposes the parse, schema and execution operations as
// structured tool calls. Tool methods never return a Go error; failures are
// reported inside the Result.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
	"github.com/JackTn/azure-sdk-usage-agent/internal/parser"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
	"github.com/JackTn/azure-sdk-usage-agent/internal/sqlexec"
)

// Sample data limits
const (
	DefaultSampleLimit = 5
	MaxSampleLimit     = 100
)

// Result is the envelope every tool returns
type Result struct {
	Success     bool                     `json:"success"`
	Data        map[string]interface{}   `json:"data,omitempty"`
	Error       *apperrors.EnhancedError `json:"error,omitempty"`
	Suggestions []string                 `json:"suggestions,omitempty"`
}

// Err returns the failure as an error, or nil on success
func (r *Result) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func success(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

func failure(err error) *Result {
	return &Result{Success: false, Error: apperrors.AsEnhanced(err)}
}

// ExecuteRequest carries the components of an assembled query
type ExecuteRequest struct {
	TableName   string   `json:"table_name"`
	Columns     []string `json:"columns"`
	WhereClause string   `json:"where_clause"`
	OrderClause string   `json:"order_clause"`
	LimitClause string   `json:"limit_clause"`
}

// Dependencies wires a Toolset. Executor may be nil, in which case the
// execution tools report QUERY_EXECUTION_FAILED.
type Dependencies struct {
	Store        *alias.Store
	Matcher      *alias.Matcher
	Schema       schema.Provider
	Orchestrator *parser.Orchestrator
	Executor     sqlexec.Executor
	Safety       *query.SafetyChecker
	Now          func() time.Time
}

// Toolset implements the tool surface
type Toolset struct {
	store        *alias.Store
	matcher      *alias.Matcher
	schema       schema.Provider
	orchestrator *parser.Orchestrator
	executor     sqlexec.Executor
	safety       *query.SafetyChecker
	now          func() time.Time
	logger       *observability.Logger
}

// NewToolset creates a Toolset
func NewToolset(deps Dependencies) *Toolset {
	if deps.Safety == nil {
		deps.Safety = query.NewSafetyChecker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Toolset{
		store:        deps.Store,
		matcher:      deps.Matcher,
		schema:       deps.Schema,
		orchestrator: deps.Orchestrator,
		executor:     deps.Executor,
		safety:       deps.Safety,
		now:          deps.Now,
		logger:       observability.NewLogger("tools"),
	}
}

// ParseUserQuery turns a question into query components
func (t *Toolset) ParseUserQuery(ctx context.Context, text string) *Result {
	if strings.TrimSpace(text) == "" {
		return failure(apperrors.NewMissingRequiredError("user_question"))
	}

	parsed := t.orchestrator.Parse(ctx, text)
	if parsed.Err != nil {
		t.logger.Warn(ctx, "Question could not be parsed", map[string]interface{}{
			"question": text,
			"error":    parsed.Err.Error(),
		})
		result := failure(parsed.Err)
		result.Suggestions = parseSuggestions()
		return result
	}

	spec := parsed.Spec
	where := spec.WhereClause
	if query.IsTautology(where) {
		where = ""
	}

	data := map[string]interface{}{
		"table_name":        spec.TableName,
		"columns":           spec.Columns,
		"where_clause":      where,
		"order_clause":      spec.OrderClause,
		"limit_clause":      spec.LimitClause,
		"sql":               spec.SQL(),
		"original_question": text,
		"ai_parsed":         spec.AIParsed,
		"fallback_used":     spec.FallbackUsed,
		"outcome":           parsed.Outcome.String(),
		"cached":            parsed.Cached,
		"entities":          t.entities(text, spec.TableName),
	}
	if parsed.FallbackReason != "" {
		data["fallback_reason"] = parsed.FallbackReason
	}
	if spec.Confidence != nil {
		data["confidence"] = *spec.Confidence
	}
	if spec.Reasoning != "" {
		data["reasoning"] = spec.Reasoning
	}
	if spec.AIModel != "" {
		data["ai_model"] = spec.AIModel
	}
	return success(data)
}

// ExecuteSQLQuery assembles a statement from components and runs it.
// Clauses are screened for statement separators and comments; the keyword
// denylist is not applied because filters such as HttpMethod = 'DELETE' are legitimate.
func (t *Toolset) ExecuteSQLQuery(ctx context.Context, req ExecuteRequest) *Result {
	if strings.TrimSpace(req.TableName) == "" {
		return failure(apperrors.NewInvalidInputError("table_name", "table name is required"))
	}
	if len(req.Columns) == 0 {
		return failure(apperrors.NewInvalidInputError("columns", "at least one column is required"))
	}

	table, ok := t.enabledTable(req.TableName)
	if !ok {
		return failure(apperrors.NewTableNotFoundError(req.TableName))
	}

	clauses := []struct{ name, value string }{
		{"where_clause", req.WhereClause},
		{"order_clause", req.OrderClause},
		{"limit_clause", req.LimitClause},
	}
	for _, c := range clauses {
		if err := t.safety.ValidateClause(c.name, c.value); err != nil {
			return failure(err)
		}
	}
	for _, col := range req.Columns {
		if err := t.safety.ValidateClause("columns", col); err != nil {
			return failure(err)
		}
	}

	sql := query.BuildSelect(table.Name, req.Columns, req.WhereClause, req.OrderClause, req.LimitClause)
	result, err := t.execute(ctx, sql)
	if err != nil {
		return failure(err)
	}

	records := result.Records()
	return success(map[string]interface{}{
		"query":      sql,
		"data":       records,
		"row_count":  len(records),
		"columns":    result.Columns,
		"table_used": table.Name,
		"query_components": map[string]interface{}{
			"table":   table.Name,
			"columns": req.Columns,
			"where":   orNone(req.WhereClause),
			"order":   orNone(req.OrderClause),
			"limit":   orNone(req.LimitClause),
		},
	})
}

// GetAvailableTablesAndColumns describes every enabled table with alias hints
func (t *Toolset) GetAvailableTablesAndColumns(ctx context.Context) *Result {
	tables := t.schema.EnabledTables()
	if len(tables) == 0 {
		return failure(apperrors.NewNoTablesAvailableError())
	}

	infos := make([]TableInfo, 0, len(tables))
	for _, table := range tables {
		infos = append(infos, t.describeTable(table))
	}

	return success(map[string]interface{}{
		"tables":         infos,
		"total_tables":   len(infos),
		"global_aliases": t.globalAliases(),
		"ai_hints": []string{
			"Match product names through product_aliases before filtering on Product",
			"Month values are 'YYYY-MM' strings; filter with LIKE 'YYYY-MM%'",
			"Use TOP N for limits and ORDER BY RequestCount DESC for rankings",
			"Only SELECT statements are executed",
		},
		"note": "Build a SELECT from these tables and run it with executeSqlQueryDirect, or pass components to executeSQLQuery",
	})
}

// ExecuteSQLQueryDirect runs caller-written SQL after the safety check.
// Refused statements never reach the executor.
func (t *Toolset) ExecuteSQLQueryDirect(ctx context.Context, sql string) *Result {
	sql = strings.TrimSpace(sql)
	if err := t.safety.ValidateQuery(sql); err != nil {
		t.logger.Warn(ctx, "Refused SQL statement", map[string]interface{}{
			"sql":    sql,
			"reason": apperrors.AsEnhanced(err).Details,
		})
		return failure(err)
	}

	result, err := t.execute(ctx, sql)
	if err != nil {
		return failure(err)
	}

	records := result.Records()
	return success(map[string]interface{}{
		"query":     sql,
		"data":      records,
		"row_count": len(records),
		"columns":   result.Columns,
	})
}

// GetSampleData returns the first rows of an enabled table
func (t *Toolset) GetSampleData(ctx context.Context, tableName string, limit int) *Result {
	if strings.TrimSpace(tableName) == "" {
		return failure(apperrors.NewInvalidInputError("table_name", "table name is required"))
	}
	table, ok := t.enabledTable(tableName)
	if !ok {
		return failure(apperrors.NewTableNotFoundError(tableName))
	}

	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	if limit > MaxSampleLimit {
		limit = MaxSampleLimit
	}

	result := t.ExecuteSQLQueryDirect(ctx, fmt.Sprintf("SELECT TOP %d * FROM %s", limit, table.Name))
	if result.Success {
		result.Data["table_name"] = table.Name
		result.Data["limit"] = limit
	}
	return result
}

// SuggestQueryStructure parses an intent and explains the resulting statement without running it
func (t *Toolset) SuggestQueryStructure(ctx context.Context, intent string) *Result {
	if strings.TrimSpace(intent) == "" {
		return failure(apperrors.NewMissingRequiredError("user_intent"))
	}

	parsed := t.orchestrator.Parse(ctx, intent)
	if parsed.Err != nil {
		result := failure(parsed.Err)
		result.Suggestions = parseSuggestions()
		return result
	}

	explanation := query.Explain(parsed.Spec)
	return success(map[string]interface{}{
		"suggested_sql": explanation.SQL,
		"explanation":   explanation.Description,
		"components":    explanation.Components,
		"entities":      t.entities(intent, parsed.Spec.TableName),
		"outcome":       parsed.Outcome.String(),
	})
}

// GetEnumValues lists the permitted values of a field
func (t *Toolset) GetEnumValues(ctx context.Context, field string) *Result {
	if strings.TrimSpace(field) == "" {
		return failure(apperrors.NewMissingRequiredError("field_name"))
	}
	return t.enumValues(field)
}

func (t *Toolset) execute(ctx context.Context, sql string) (*sqlexec.Result, error) {
	if t.executor == nil {
		return nil, apperrors.NewQueryExecutionError(fmt.Errorf("no SQL backend configured"))
	}
	return t.executor.Execute(ctx, sql)
}

// enabledTable resolves name case-insensitively among enabled tables
func (t *Toolset) enabledTable(name string) (schema.Table, bool) {
	table, ok := t.schema.Table(strings.TrimSpace(name))
	if !ok || !table.Enabled {
		return schema.Table{}, false
	}
	return table, true
}

// entities lists what the alias table resolves in text. Products are
// restricted to the Product enum of the chosen table when it has one.
func (t *Toolset) entities(text, tableName string) map[string][]string {
	if t.matcher == nil {
		return map[string][]string{}
	}

	found := t.matcher.FindAll(text)
	if table, ok := t.schema.Table(tableName); ok {
		if col, ok := table.Column("Product"); ok && len(col.Enum) > 0 {
			if products := t.matcher.FindProducts(text, col.Enum); len(products) > 0 {
				found[alias.CategoryProduct] = products
			} else {
				delete(found, alias.CategoryProduct)
			}
		}
	}
	return found
}

func parseSuggestions() []string {
	return []string{
		"Name a product, for example 'Python SDK usage this month'",
		"Mention a time range such as 'this month' or '2025-07'",
		"Use getAvailableTablesAndColumns to see the queryable tables",
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
