// Package schema describes the queryable tables and their columns
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column is one column of a table together with its definition
type Column struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Enum        []string `json:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Format      string   `json:"format,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
}

// Table is a queryable table
type Table struct {
	Name        string   `json:"table_name"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
	Columns     []Column `json:"columns"`
}

// ColumnNames returns the column names in declared order
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table declares name
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Provider exposes table metadata
type Provider interface {
	// EnabledTables returns the enabled tables in declaration order
	EnabledTables() []Table
	// Table finds a table by name, case-insensitively, enabled or not
	Table(name string) (Table, bool)
	// EnumValues returns the permitted values of a column definition, or nil
	EnumValues(column string) []string
}

// Catalog is an in-memory Provider
type Catalog struct {
	tables      []Table
	definitions map[string]Column
}

// NewCatalog builds a provider from tables; column enums double as definitions
func NewCatalog(tables ...Table) *Catalog {
	c := &Catalog{tables: tables, definitions: make(map[string]Column)}
	for _, t := range tables {
		for _, col := range t.Columns {
			if _, ok := c.definitions[col.Name]; !ok {
				c.definitions[col.Name] = col
			}
		}
	}
	return c
}

// EnabledTables implements Provider
func (c *Catalog) EnabledTables() []Table {
	var out []Table
	for _, t := range c.tables {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Table implements Provider
func (c *Catalog) Table(name string) (Table, bool) {
	for _, t := range c.tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// EnumValues implements Provider
func (c *Catalog) EnumValues(column string) []string {
	if def, ok := c.definitions[column]; ok && len(def.Enum) > 0 {
		return append([]string(nil), def.Enum...)
	}
	return nil
}

// AllTables returns every table, enabled or not
func (c *Catalog) AllTables() []Table {
	return append([]Table(nil), c.tables...)
}

// file layout: {"Tables": [...], "definitions": {...}} with columns referencing definitions via $ref

type fileDocument struct {
	Tables      []fileTable               `json:"Tables" yaml:"Tables"`
	Definitions map[string]fileDefinition `json:"definitions" yaml:"definitions"`
}

type fileTable struct {
	TableName   string       `json:"TableName" yaml:"TableName"`
	Enabled     flexBool     `json:"enabled" yaml:"enabled"`
	Description string       `json:"Description" yaml:"Description"`
	Columns     []fileColumn `json:"Columns" yaml:"Columns"`
}

type fileColumn struct {
	ColumnName string `json:"ColumnName" yaml:"ColumnName"`
	Ref        string `json:"$ref" yaml:"$ref"`
}

type fileDefinition struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Type        string   `json:"type" yaml:"type"`
	Enum        []string `json:"enum" yaml:"enum"`
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Format      string   `json:"format" yaml:"format"`
	Minimum     *float64 `json:"minimum" yaml:"minimum"`
}

// flexBool accepts true/false as booleans or strings; absent means enabled
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) parse(s string) error {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid enabled flag %q", s)
	}
	b.set, b.value = true, v
	return nil
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		b.set, b.value = true, x
		return nil
	case string:
		return b.parse(x)
	case nil:
		return nil
	default:
		return fmt.Errorf("invalid enabled flag %s", string(data))
	}
}

func (b *flexBool) UnmarshalYAML(node *yaml.Node) error {
	return b.parse(node.Value)
}

func (b flexBool) enabled() bool {
	return !b.set || b.value
}

// Parse decodes a schema document; format is "yaml" or "json"
func Parse(data []byte, format string) (*Catalog, error) {
	var doc fileDocument
	var err error
	if format == "yaml" {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	catalog := &Catalog{definitions: make(map[string]Column, len(doc.Definitions))}
	for name, def := range doc.Definitions {
		catalog.definitions[name] = def.column(name)
	}

	seen := make(map[string]bool)
	for _, ft := range doc.Tables {
		if ft.TableName == "" {
			return nil, fmt.Errorf("table without TableName")
		}
		key := strings.ToLower(ft.TableName)
		if seen[key] {
			return nil, fmt.Errorf("duplicate table %s", ft.TableName)
		}
		seen[key] = true

		table := Table{
			Name:        ft.TableName,
			Description: ft.Description,
			Enabled:     ft.Enabled.enabled(),
		}
		for _, fc := range ft.Columns {
			col := Column{Name: fc.ColumnName, Title: fc.ColumnName, Type: "string"}
			ref := strings.TrimPrefix(fc.Ref, "#/definitions/")
			if def, ok := doc.Definitions[ref]; ok && ref != "" {
				col = def.column(fc.ColumnName)
			}
			table.Columns = append(table.Columns, col)
		}
		catalog.tables = append(catalog.tables, table)
	}

	return catalog, nil
}

func (d fileDefinition) column(name string) Column {
	col := Column{
		Name:        name,
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Enum:        d.Enum,
		Pattern:     d.Pattern,
		Format:      d.Format,
		Minimum:     d.Minimum,
	}
	if col.Title == "" {
		col.Title = name
	}
	if col.Type == "" {
		col.Type = "string"
	}
	return col
}

// LoadFile reads a schema file; .yaml/.yml files are YAML, anything else JSON
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}
	return Parse(data, format)
}
