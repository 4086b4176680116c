// Package alias resolves free-text fragments to canonical backend identifiers
// through a category-partitioned alias table.
package alias

import (
	"fmt"
	"sort"
	"strings"
)

// MetadataKey is the top-level document key holding configuration metadata
const MetadataKey = "_metadata"

// Alias categories
const (
	CategoryProduct    = "product_aliases"
	CategoryOS         = "os_aliases"
	CategoryHTTPMethod = "http_method_aliases"
	CategoryProvider   = "provider_aliases"
	CategoryResource   = "resource_aliases"
	CategoryTime       = "time_aliases"
	CategoryQuantity   = "quantity_aliases"
	CategoryComparison = "comparison_aliases"
)

// KnownCategories lists every category a configuration may carry, in display order
var KnownCategories = []string{
	CategoryProduct,
	CategoryOS,
	CategoryHTTPMethod,
	CategoryProvider,
	CategoryResource,
	CategoryTime,
	CategoryQuantity,
	CategoryComparison,
}

// RequiredMetadata lists the metadata fields Validate expects
var RequiredMetadata = []string{"version", "last_updated", "description"}

// IsKnownCategory reports whether name is one of KnownCategories
func IsKnownCategory(name string) bool {
	for _, c := range KnownCategories {
		if c == name {
			return true
		}
	}
	return false
}

// Configuration is the in-memory alias table
type Configuration struct {
	// Categories maps category name to alias key (lowercase) to canonical targets
	Categories map[string]map[string][]string
	Metadata   map[string]interface{}
}

// NewEmptyConfiguration returns a configuration with every known category present and empty
func NewEmptyConfiguration() *Configuration {
	cfg := &Configuration{
		Categories: make(map[string]map[string][]string, len(KnownCategories)),
		Metadata:   make(map[string]interface{}),
	}
	for _, c := range KnownCategories {
		cfg.Categories[c] = make(map[string][]string)
	}
	return cfg
}

// Clone returns a deep copy
func (c *Configuration) Clone() *Configuration {
	out := &Configuration{
		Categories: make(map[string]map[string][]string, len(c.Categories)),
		Metadata:   copyMetadata(c.Metadata),
	}
	for name, aliases := range c.Categories {
		out.Categories[name] = copyCategory(aliases)
	}
	return out
}

// AliasCount returns the number of alias keys across all categories
func (c *Configuration) AliasCount() int {
	n := 0
	for _, aliases := range c.Categories {
		n += len(aliases)
	}
	return n
}

// CategoryNames returns the populated category names, known categories first in
// display order, then any others sorted
func (c *Configuration) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, known := range KnownCategories {
		if _, ok := c.Categories[known]; ok {
			names = append(names, known)
		}
	}
	var extra []string
	for name := range c.Categories {
		if !IsKnownCategory(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Document renders the configuration as the flat persisted shape: one key per
// category plus MetadataKey
func (c *Configuration) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(c.Categories)+1)
	doc[MetadataKey] = copyMetadata(c.Metadata)
	for name, aliases := range c.Categories {
		doc[name] = copyCategory(aliases)
	}
	return doc
}

// Decode builds a Configuration from a generic document as produced by
// encoding/json or yaml.v3. Unknown top-level keys are skipped and reported in
// the returned diagnostics. A scalar string target is accepted as a one-element
// list. Structural errors are returned as a single error.
func Decode(doc map[string]interface{}) (*Configuration, []string, error) {
	cfg := NewEmptyConfiguration()
	var diagnostics []string

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := doc[key]

		if key == MetadataKey {
			meta, ok := value.(map[string]interface{})
			if !ok {
				return nil, nil, fmt.Errorf("%s must be an object, got %T", MetadataKey, value)
			}
			cfg.Metadata = copyMetadata(meta)
			continue
		}

		if !IsKnownCategory(key) {
			diagnostics = append(diagnostics, fmt.Sprintf("ignored unknown category '%s'", key))
			continue
		}

		entries, ok := value.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("category '%s' must be an object, got %T", key, value)
		}

		// Keys that collide after lowercasing resolve in sorted order, so an
		// already-lowercase key wins over its mixed-case variants
		rawAliases := make([]string, 0, len(entries))
		for rawAlias := range entries {
			rawAliases = append(rawAliases, rawAlias)
		}
		sort.Strings(rawAliases)

		aliases := make(map[string][]string, len(entries))
		for _, rawAlias := range rawAliases {
			rawTargets := entries[rawAlias]
			targets, err := decodeTargets(rawTargets)
			if err != nil {
				return nil, nil, fmt.Errorf("category '%s' alias '%s': %w", key, rawAlias, err)
			}
			alias := strings.ToLower(rawAlias)
			if _, dup := aliases[alias]; dup {
				diagnostics = append(diagnostics, fmt.Sprintf("duplicate alias '%s' in '%s' after lowercasing", alias, key))
			}
			aliases[alias] = targets
		}
		cfg.Categories[key] = aliases
	}

	return cfg, diagnostics, nil
}

func decodeTargets(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		targets := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("target %d must be a string, got %T", i, item)
			}
			targets = append(targets, s)
		}
		return targets, nil
	case []string:
		return append([]string(nil), v...), nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("targets must be a string or a list of strings, got %T", raw)
	}
}

func copyCategory(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for alias, targets := range in {
		out[alias] = append([]string(nil), targets...)
	}
	return out
}

func copyMetadata(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
