package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaJSON = `{
  "Tables": [
    {
      "TableName": "ProductUsage",
      "enabled": "true",
      "Description": "usage per product",
      "Columns": [
        {"ColumnName": "Month", "$ref": "#/definitions/Month"},
        {"ColumnName": "Product", "$ref": "#/definitions/Product"},
        {"ColumnName": "RequestCount", "$ref": "#/definitions/RequestCount"},
        {"ColumnName": "Notes"}
      ]
    },
    {
      "TableName": "Archive",
      "enabled": "false",
      "Columns": [{"ColumnName": "Month", "$ref": "#/definitions/Month"}]
    },
    {
      "TableName": "CustomerUsage",
      "enabled": true,
      "Columns": [{"ColumnName": "CustomerName"}]
    }
  ],
  "definitions": {
    "Month": {"title": "Month", "type": "string", "description": "YYYY-MM"},
    "Product": {"type": "string", "enum": ["Python-SDK", "Go-SDK"]},
    "RequestCount": {"type": "integer", "minimum": 0}
  }
}`

func TestParse(t *testing.T) {
	catalog, err := Parse([]byte(testSchemaJSON), "json")
	require.NoError(t, err)

	enabled := catalog.EnabledTables()
	require.Len(t, enabled, 2)
	assert.Equal(t, "ProductUsage", enabled[0].Name)
	assert.Equal(t, "CustomerUsage", enabled[1].Name)

	usage := enabled[0]
	assert.Equal(t, []string{"Month", "Product", "RequestCount", "Notes"}, usage.ColumnNames())

	product, ok := usage.Column("Product")
	require.True(t, ok)
	assert.Equal(t, "Product", product.Title)
	assert.Equal(t, []string{"Python-SDK", "Go-SDK"}, product.Enum)

	count, _ := usage.Column("RequestCount")
	assert.Equal(t, "integer", count.Type)
	require.NotNil(t, count.Minimum)
	assert.Equal(t, 0.0, *count.Minimum)

	notes, _ := usage.Column("Notes")
	assert.Equal(t, "string", notes.Type)

	assert.Equal(t, []string{"Python-SDK", "Go-SDK"}, catalog.EnumValues("Product"))
	assert.Nil(t, catalog.EnumValues("Month"))
}

func TestCatalog_TableLookup(t *testing.T) {
	catalog, err := Parse([]byte(testSchemaJSON), "json")
	require.NoError(t, err)

	table, ok := catalog.Table("productusage")
	require.True(t, ok)
	assert.Equal(t, "ProductUsage", table.Name)

	archive, ok := catalog.Table("Archive")
	require.True(t, ok)
	assert.False(t, archive.Enabled)

	_, ok = catalog.Table("missing")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"Tables": [`},
		{"missing table name", `{"Tables": [{"Columns": []}]}`},
		{"duplicate table", `{"Tables": [{"TableName": "A"}, {"TableName": "a"}]}`},
		{"bad enabled flag", `{"Tables": [{"TableName": "A", "enabled": "maybe"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "json")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Tables:
  - TableName: ProductUsage
    enabled: "true"
    Columns:
      - ColumnName: Product
        $ref: "#/definitions/Product"
definitions:
  Product:
    type: string
    enum: [Python-SDK]
`), 0o644))

	catalog, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, catalog.EnabledTables(), 1)
	assert.Equal(t, []string{"Python-SDK"}, catalog.EnumValues("Product"))
}

func TestLoadFile_BundledSchema(t *testing.T) {
	catalog, err := LoadFile(filepath.Join("..", "..", "configs", "tables_and_columns.json"))
	require.NoError(t, err)

	enabled := catalog.EnabledTables()
	require.NotEmpty(t, enabled)
	assert.Equal(t, "ProductUsage", enabled[0].Name)
	assert.Contains(t, catalog.EnumValues("Product"), "Python-SDK")
}

func TestNewCatalog(t *testing.T) {
	catalog := NewCatalog(
		Table{Name: "T", Enabled: true, Columns: []Column{{Name: "OS", Type: "string", Enum: []string{"Linux"}}}},
		Table{Name: "U", Enabled: false},
	)

	assert.Len(t, catalog.EnabledTables(), 1)
	assert.Len(t, catalog.AllTables(), 2)
	assert.Equal(t, []string{"Linux"}, catalog.EnumValues("OS"))
}
