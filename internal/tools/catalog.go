package tools

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
)

// maxEnumPreview bounds the enum values listed per column
const maxEnumPreview = 10

// TableInfo describes one enabled table for tool callers
type TableInfo struct {
	TableName     string            `json:"table_name"`
	Description   string            `json:"description"`
	Columns       []ColumnInfo      `json:"columns"`
	SampleQueries []string          `json:"sample_queries"`
	QueryTips     map[string]string `json:"query_tips"`
}

// ColumnInfo is a column with the alias hints that apply to it
type ColumnInfo struct {
	Name           string              `json:"name"`
	Type           string              `json:"type"`
	Description    string              `json:"description,omitempty"`
	EnumValues     []string            `json:"enum_values,omitempty"`
	ProductAliases map[string][]string `json:"product_aliases,omitempty"`
	AliasExamples  map[string]string   `json:"alias_examples,omitempty"`
	CommonAliases  map[string]string   `json:"common_aliases,omitempty"`
	CommonPatterns map[string]string   `json:"common_patterns,omitempty"`
}

var queryTips = map[string]string{
	"date_filtering":   "Use LIKE for partial dates: Month LIKE '2025-01%'",
	"product_matching": "Use aliases for products: 'js' matches JavaScript products",
	"case_insensitive": "Use LIKE with wildcards for flexible matching",
	"aggregation":      "Use GROUP BY for summaries, ORDER BY for sorting",
}

// enumFieldNames maps normalized field names to their definition names
var enumFieldNames = map[string]string{
	"product":         "Product",
	"trackinfo":       "TrackInfo",
	"track":           "TrackInfo",
	"httpmethod":      "HttpMethod",
	"method":          "HttpMethod",
	"os":              "OS",
	"operatingsystem": "OS",
}

// openFields have no enum restriction
var openFields = map[string]string{
	"provider":   "Azure resource provider names (e.g., Microsoft.Compute, Microsoft.Storage)",
	"resource":   "Azure resource types (e.g., virtualMachines, storageAccounts)",
	"apiversion": "Azure API versions (e.g., 2021-04-01, 2020-12-01)",
}

func (t *Toolset) describeTable(table schema.Table) TableInfo {
	columns := make([]ColumnInfo, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, t.describeColumn(col))
	}

	year := t.now().Format("2006")
	samples := []string{
		fmt.Sprintf("SELECT TOP 10 * FROM %s", table.Name),
		fmt.Sprintf("SELECT Month, COUNT(*) FROM %s GROUP BY Month", table.Name),
		fmt.Sprintf("SELECT * FROM %s WHERE Month LIKE '%s%%'", table.Name, year),
	}
	if product, ok := table.Column("Product"); ok {
		example := "Python"
		if len(product.Enum) > 0 {
			example = product.Enum[0]
		}
		samples = append(samples,
			fmt.Sprintf("SELECT * FROM %s WHERE Product LIKE '%%%s%%'", table.Name, example),
			fmt.Sprintf("SELECT Product, SUM(RequestCount) FROM %s GROUP BY Product", table.Name),
		)
	}

	return TableInfo{
		TableName:     table.Name,
		Description:   table.Description,
		Columns:       columns,
		SampleQueries: samples,
		QueryTips:     queryTips,
	}
}

func (t *Toolset) describeColumn(col schema.Column) ColumnInfo {
	info := ColumnInfo{
		Name:        col.Name,
		Type:        col.Type,
		Description: col.Description,
	}
	if info.Type == "" {
		info.Type = "string"
	}
	if len(col.Enum) > 0 {
		n := len(col.Enum)
		if n > maxEnumPreview {
			n = maxEnumPreview
		}
		info.EnumValues = col.Enum[:n]
	}

	if t.store == nil {
		return info
	}

	switch col.Name {
	case "Product":
		aliases := make(map[string][]string)
		for _, product := range col.Enum {
			if keys := t.store.AliasesForProduct(product); len(keys) > 0 {
				aliases[product] = keys
			}
		}
		if len(aliases) > 0 {
			info.ProductAliases = aliases
			info.AliasExamples = aliasExamples(aliases)
		}
	case "OS":
		info.CommonAliases = aliasesByTarget(t.store.Category(alias.CategoryOS))
	case "HttpMethod":
		info.CommonAliases = aliasesByTarget(t.store.Category(alias.CategoryHTTPMethod))
	case "Provider":
		info.CommonPatterns = joinTargets(t.store.Category(alias.CategoryProvider))
	case "Resource":
		info.CommonPatterns = joinTargets(t.store.Category(alias.CategoryResource))
	}
	return info
}

// globalAliases exposes the whole product table and the expression categories
func (t *Toolset) globalAliases() map[string]interface{} {
	now := t.now()
	timeExpressions := map[string]string{
		"this_month": now.Format("2006-01"),
		"last_month": now.AddDate(0, -1, 0).Format("2006-01"),
		"this_year":  now.Format("2006"),
		"recent":     "ORDER BY Month DESC",
	}

	var products map[string][]string
	quantity := map[string]string{}
	comparison := map[string]string{}
	if t.store != nil {
		products = t.store.Category(alias.CategoryProduct)
		for k, v := range joinTargets(t.store.Category(alias.CategoryTime)) {
			if _, fixed := timeExpressions[k]; !fixed {
				timeExpressions[k] = v
			}
		}
		quantity = joinTargets(t.store.Category(alias.CategoryQuantity))
		comparison = joinTargets(t.store.Category(alias.CategoryComparison))
	}

	return map[string]interface{}{
		"product_aliases": products,
		"common_patterns": map[string]interface{}{
			"time_expressions":       timeExpressions,
			"quantity_expressions":   quantity,
			"comparison_expressions": comparison,
		},
	}
}

func (t *Toolset) enumValues(field string) *Result {
	key := normalizeField(field)

	name := field
	if mapped, ok := enumFieldNames[key]; ok {
		name = mapped
	}
	values := t.schema.EnumValues(name)
	description := ""

	if len(values) == 0 {
		for _, table := range t.schema.EnabledTables() {
			for _, col := range table.Columns {
				if normalizeField(col.Name) == key && len(col.Enum) > 0 {
					name, values, description = col.Name, col.Enum, col.Description
					break
				}
			}
			if len(values) > 0 {
				break
			}
		}
	}

	if len(values) > 0 {
		data := map[string]interface{}{
			"field_name":  name,
			"enum_values": values,
			"count":       len(values),
		}
		if description != "" {
			data["description"] = description
		}
		return success(data)
	}

	if desc, ok := openFields[key]; ok {
		return success(map[string]interface{}{
			"field_name":  field,
			"message":     fmt.Sprintf("No enum restriction for %s", field),
			"description": desc,
			"note":        "This field accepts any valid value from the database",
		})
	}

	available := make([]string, 0, len(enumFieldNames)+len(openFields))
	for k := range enumFieldNames {
		available = append(available, k)
	}
	for k := range openFields {
		available = append(available, k)
	}
	sort.Strings(available)

	return failure(apperrors.NewInvalidInputError("field_name", fmt.Sprintf("no enum information for '%s'", field)).
		WithMetadata("available_fields", available))
}

// normalizeField lowercases and drops everything but letters and digits
func normalizeField(field string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(field) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// aliasExamples renders "a, b, c → Product" for each product, keyed by its first alias
func aliasExamples(products map[string][]string) map[string]string {
	examples := make(map[string]string, len(products))
	for product, aliases := range products {
		n := len(aliases)
		if n > 3 {
			n = 3
		}
		key := strings.NewReplacer(".", "_", "#", "sharp").Replace(aliases[0])
		examples[key] = strings.Join(aliases[:n], ", ") + " → " + product
	}
	return examples
}

// aliasesByTarget groups alias keys under their first target
func aliasesByTarget(category map[string][]string) map[string]string {
	grouped := make(map[string][]string)
	for key, targets := range category {
		if len(targets) == 0 {
			continue
		}
		grouped[targets[0]] = append(grouped[targets[0]], key)
	}

	out := make(map[string]string, len(grouped))
	for target, keys := range grouped {
		sort.Strings(keys)
		out[target] = strings.Join(keys, ", ")
	}
	return out
}

func joinTargets(category map[string][]string) map[string]string {
	out := make(map[string]string, len(category))
	for key, targets := range category {
		out[key] = strings.Join(targets, ", ")
	}
	return out
}
