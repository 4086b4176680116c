// Package parser turns natural-language questions into query specs
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/llm"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
)

const maxPromptEnumValues = 5

// AIParser asks an LLM backend for the query components
type AIParser struct {
	client llm.Client
	schema schema.Provider
}

// NewAIParser creates an AI parser
func NewAIParser(client llm.Client, provider schema.Provider) *AIParser {
	return &AIParser{client: client, schema: provider}
}

// SchemaContext describes every enabled table for the prompt
func (p *AIParser) SchemaContext() string {
	var blocks []string
	for _, t := range p.schema.EnabledTables() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Table: %s\n", t.Name)
		fmt.Fprintf(&sb, "Description: %s\n", t.Description)
		fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(t.ColumnNames(), ", "))
		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "  - %s: %s", c.Name, c.Description)
			if len(c.Enum) > 0 {
				values := c.Enum
				suffix := ""
				if len(values) > maxPromptEnumValues {
					values = values[:maxPromptEnumValues]
					suffix = "..."
				}
				fmt.Fprintf(&sb, " (enum: %s%s)", strings.Join(values, ", "), suffix)
			}
			sb.WriteString("\n")
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt renders the instruction sent to the backend
func (p *AIParser) BuildPrompt(question string) string {
	return fmt.Sprintf(`You are a SQL query generator. Given a natural language question and database schema,
generate the appropriate SQL query components.

Database Schema:
%s

User Question: %q

Please analyze the question and provide a JSON response with the following structure:
{
    "table_name": "most appropriate table name",
    "columns": ["list", "of", "relevant", "columns"],
    "where_clause": "SQL WHERE conditions (without WHERE keyword)",
    "order_clause": "SQL ORDER BY clause (with ORDER BY keyword)",
    "limit_clause": "SQL TOP N clause (with TOP keyword)",
    "confidence": 0.95,
    "reasoning": "explanation of choices made"
}

Rules:
1. If asking for "top N" items, use "TOP N" in limit_clause
2. For date filtering, use LIKE for partial matches (e.g., "Month LIKE '2024-01%%'")
3. For product filtering, match against enum values
4. Always include key columns like Month, RequestCount, SubscriptionCount when relevant
5. Use confidence score 0-1 based on how certain you are about the interpretation
6. If unclear, return confidence < 0.7 and explain in reasoning

Return only valid JSON, no other text.
`, p.SchemaContext(), question)
}

// Parse calls the backend and validates its answer. Errors are AI_UNAVAILABLE or AI_RESPONSE_INVALID.
func (p *AIParser) Parse(ctx context.Context, question string) (*query.ParsedQuerySpec, error) {
	start := time.Now()
	text, err := p.client.Complete(ctx, p.BuildPrompt(question))
	observability.RecordLLMMetrics(p.client.Name(), time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewAIUnavailableError(err, p.client.Name())
	}

	spec, err := p.decode(text)
	if err != nil {
		return nil, err
	}
	spec.OriginalQuestion = question
	spec.AIModel = p.client.Name()
	return spec, nil
}

func (p *AIParser) decode(text string) (*query.ParsedQuerySpec, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, apperrors.NewAIResponseInvalidError("no JSON object in response")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, apperrors.NewAIResponseInvalidError("invalid JSON: " + err.Error())
	}

	if reported, ok := fields["error"]; ok && reported != nil && reported != "" {
		return nil, apperrors.NewAIResponseInvalidError(fmt.Sprintf("model reported an error: %v", reported))
	}

	for _, required := range []string{"table_name", "columns", "where_clause"} {
		if _, ok := fields[required]; !ok {
			return nil, apperrors.NewAIResponseInvalidError("missing required field: " + required)
		}
	}

	tableName, _ := fields["table_name"].(string)
	table, ok := p.schema.Table(strings.TrimSpace(tableName))
	if !ok || !table.Enabled {
		return nil, apperrors.NewAIResponseInvalidError("suggested table is not available: " + tableName)
	}

	columns, err := decodeColumns(fields["columns"])
	if err != nil {
		return nil, err
	}

	spec := &query.ParsedQuerySpec{
		TableName:   table.Name,
		Columns:     columns,
		WhereClause: stringField(fields, "where_clause"),
		OrderClause: stringField(fields, "order_clause"),
		LimitClause: stringField(fields, "limit_clause"),
		Reasoning:   stringField(fields, "reasoning"),
		AIParsed:    true,
	}
	if spec.WhereClause == "" {
		spec.WhereClause = query.Tautology
	}
	if c, ok := fields["confidence"].(float64); ok {
		spec.Confidence = &c
	}
	return spec, nil
}

// decodeColumns accepts a JSON array of names or a comma-separated string
func decodeColumns(v interface{}) ([]string, error) {
	var columns []string
	switch x := v.(type) {
	case []interface{}:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, apperrors.NewAIResponseInvalidError("columns must be strings")
			}
			if s = strings.TrimSpace(s); s != "" {
				columns = append(columns, s)
			}
		}
	case string:
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				columns = append(columns, s)
			}
		}
	default:
		return nil, apperrors.NewAIResponseInvalidError("columns must be a list")
	}
	if len(columns) == 0 {
		return []string{"*"}, nil
	}
	return columns, nil
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

// ExtractJSON returns the first balanced, well-formed JSON object in text, or ""
func ExtractJSON(text string) string {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchingBrace(text, start); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

// matchingBrace returns the index of the brace closing text[start], skipping string literals
func matchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
