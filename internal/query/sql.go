// Package query assembles SELECT statements from parsed query components
package query

import (
	"strings"
)

// Tautology is the WHERE clause meaning "no filter"
const Tautology = "1=1"

// ParsedQuerySpec is the structured form of a natural-language question
type ParsedQuerySpec struct {
	TableName   string   `json:"table_name"`
	Columns     []string `json:"columns"`
	WhereClause string   `json:"where_clause"`
	OrderClause string   `json:"order_clause"`
	LimitClause string   `json:"limit_clause"`

	AIParsed     bool     `json:"ai_parsed"`
	FallbackUsed bool     `json:"fallback_used"`
	Confidence   *float64 `json:"confidence,omitempty"`

	Reasoning        string `json:"reasoning,omitempty"`
	OriginalQuestion string `json:"original_question,omitempty"`
	AIModel          string `json:"ai_model,omitempty"`
}

// SQL renders the parsed components as a statement
func (s *ParsedQuerySpec) SQL() string {
	return BuildSelect(s.TableName, s.Columns, s.WhereClause, s.OrderClause, s.LimitClause)
}

// IsTautology reports whether where means "no filter"
func IsTautology(where string) bool {
	return strings.ReplaceAll(strings.TrimSpace(where), " ", "") == Tautology
}

// BuildSelect renders
//
//	SELECT[ <limit>] <columns> FROM <table>[ WHERE <where>][ <order>]
//
// The limit clause (TOP N) goes right after SELECT. The WHERE segment is
// dropped when where is blank or the 1=1 tautology. No columns renders as *.
func BuildSelect(table string, columns []string, where, order, limit string) string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if limit = strings.TrimSpace(limit); limit != "" {
		sb.WriteString(limit)
		sb.WriteString(" ")
	}

	if len(columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(columns, ", "))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(table)

	if where = strings.TrimSpace(where); where != "" && !IsTautology(where) {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if order = strings.TrimSpace(order); order != "" {
		sb.WriteString(" ")
		sb.WriteString(order)
	}

	return sb.String()
}

// Components is the human-readable breakdown of a spec; nil fields are absent
type Components struct {
	Table    string   `json:"table"`
	Columns  []string `json:"columns"`
	Filters  *string  `json:"filters"`
	Ordering *string  `json:"ordering"`
	Limit    *string  `json:"limit"`
}

// Explanation pairs a statement with its breakdown
type Explanation struct {
	SQL         string     `json:"suggested_sql"`
	Description string     `json:"explanation"`
	Components  Components `json:"components"`
}

// Explain describes spec for a human reader, suppressing the 1=1 filter
func Explain(spec *ParsedQuerySpec) Explanation {
	components := Components{
		Table:    spec.TableName,
		Columns:  spec.Columns,
		Filters:  optional(spec.WhereClause),
		Ordering: optional(spec.OrderClause),
		Limit:    optional(spec.LimitClause),
	}
	if IsTautology(spec.WhereClause) {
		components.Filters = nil
	}

	parts := []string{"Reads " + describeColumns(spec.Columns) + " from " + spec.TableName}
	if components.Filters != nil {
		parts = append(parts, "filtered by "+*components.Filters)
	}
	if components.Ordering != nil {
		parts = append(parts, "sorted with "+*components.Ordering)
	}
	if components.Limit != nil {
		parts = append(parts, "keeping "+*components.Limit)
	}

	source := "rule-based parsing"
	if spec.AIParsed {
		source = "AI parsing"
	}

	return Explanation{
		SQL:         spec.SQL(),
		Description: strings.Join(parts, ", ") + ". Suggested by " + source + "; adjust as needed.",
		Components:  components,
	}
}

func describeColumns(columns []string) string {
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		return "all columns"
	}
	return strings.Join(columns, ", ")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
