package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
)

var (
	tableKeywords    = []string{"product", "customer", "usage"}
	preferredColumns = []string{"Month", "Product", "RequestCount"}
	topNPattern      = regexp.MustCompile(`top\s+(\d+)`)
)

// RuleParser is the deterministic keyword parser used whenever the AI path is unavailable or unsure
type RuleParser struct {
	schema schema.Provider
	now    func() time.Time
}

// NewRuleParser creates a rule parser; now defaults to time.Now
func NewRuleParser(provider schema.Provider, now func() time.Time) *RuleParser {
	if now == nil {
		now = time.Now
	}
	return &RuleParser{schema: provider, now: now}
}

// Parse turns question into a query spec. It only fails when no table is enabled.
func (p *RuleParser) Parse(question string) (*query.ParsedQuerySpec, error) {
	tables := p.schema.EnabledTables()
	if len(tables) == 0 {
		return nil, apperrors.NewNoTablesAvailableError()
	}

	text := strings.ToLower(question)
	table := selectTable(tables, text)

	spec := &query.ParsedQuerySpec{
		TableName:        table.Name,
		Columns:          selectColumns(table),
		WhereClause:      query.Tautology,
		FallbackUsed:     true,
		OriginalQuestion: question,
	}

	if strings.Contains(text, "this month") {
		now := p.now()
		spec.WhereClause = fmt.Sprintf("Month LIKE '%04d-%02d%%'", now.Year(), int(now.Month()))
	}
	if strings.Contains(text, "top") {
		spec.OrderClause = "ORDER BY RequestCount DESC"
	}
	if m := topNPattern.FindStringSubmatch(text); m != nil {
		spec.LimitClause = "TOP " + m[1]
	}

	return spec, nil
}

// selectTable picks the first table whose name contains a keyword present in text, else the first table
func selectTable(tables []schema.Table, text string) schema.Table {
	var found []string
	for _, kw := range tableKeywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}

	for _, t := range tables {
		name := strings.ToLower(t.Name)
		for _, kw := range found {
			if strings.Contains(name, kw) {
				return t
			}
		}
	}
	return tables[0]
}

func selectColumns(table schema.Table) []string {
	var columns []string
	for _, c := range preferredColumns {
		if table.HasColumn(c) {
			columns = append(columns, c)
		}
	}
	if len(columns) > 0 {
		return columns
	}

	names := table.ColumnNames()
	if len(names) == 0 {
		return []string{"*"}
	}
	if len(names) > 3 {
		names = names[:3]
	}
	return names
}
