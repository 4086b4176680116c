package alias

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

// Matcher finds canonical targets whose alias occurs in free text.
//
// Matching is plain substring containment on the lowercased text, so short
// aliases match inside longer words ("net" matches "internet"). WholeWord
// restricts matches to occurrences not flanked by letters or digits.
type Matcher struct {
	store     *Store
	wholeWord bool
}

// MatcherOption configures a Matcher
type MatcherOption func(*Matcher)

// WithWholeWord enables word-boundary matching
func WithWholeWord(enabled bool) MatcherOption {
	return func(m *Matcher) { m.wholeWord = enabled }
}

// NewMatcher creates a matcher reading aliases from store
func NewMatcher(store *Store, opts ...MatcherOption) *Matcher {
	m := &Matcher{store: store}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WholeWord reports whether word-boundary matching is enabled
func (m *Matcher) WholeWord() bool {
	return m.wholeWord
}

// FindMatches returns the sorted, deduplicated targets of every alias in
// category that occurs in text. A nil allowed slice disables filtering; a
// non-nil one keeps only targets it contains.
func (m *Matcher) FindMatches(text, category string, allowed []string) []string {
	observability.GetGlobalMetrics().Inc(observability.MetricAliasMatchLookup, map[string]string{"category": category})

	lower := strings.ToLower(text)
	var allow map[string]struct{}
	if allowed != nil {
		allow = make(map[string]struct{}, len(allowed))
		for _, a := range allowed {
			allow[a] = struct{}{}
		}
	}

	found := make(map[string]struct{})
	m.store.mu.RLock()
	for alias, targets := range m.store.config.Categories[category] {
		if alias == "" || !m.contains(lower, alias) {
			continue
		}
		for _, target := range targets {
			if allow != nil {
				if _, ok := allow[target]; !ok {
					continue
				}
			}
			found[target] = struct{}{}
		}
	}
	m.store.mu.RUnlock()

	return sortedKeys(found)
}

// FindProducts resolves product names in text. Direct mentions of an
// available product win; aliases are consulted only when there are none, and
// only resolve to available products.
func (m *Matcher) FindProducts(text string, available []string) []string {
	lower := strings.ToLower(text)

	direct := make(map[string]struct{})
	for _, product := range available {
		if product != "" && m.contains(lower, strings.ToLower(product)) {
			direct[product] = struct{}{}
		}
	}
	if len(direct) > 0 {
		return sortedKeys(direct)
	}

	if available == nil {
		available = []string{}
	}
	return m.FindMatches(text, CategoryProduct, available)
}

// FindAll runs FindMatches for every known category and returns the non-empty results
func (m *Matcher) FindAll(text string) map[string][]string {
	out := make(map[string][]string)
	for _, category := range KnownCategories {
		if matches := m.FindMatches(text, category, nil); len(matches) > 0 {
			out[category] = matches
		}
	}
	return out
}

// contains reports whether needle occurs in haystack, honoring wholeWord
func (m *Matcher) contains(haystack, needle string) bool {
	if !m.wholeWord {
		return strings.Contains(haystack, needle)
	}

	first, _ := utf8.DecodeRuneInString(needle)
	last, _ := utf8.DecodeLastRuneInString(needle)

	for offset := 0; offset <= len(haystack)-len(needle); {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)

		leftOK := start == 0 || !isWordRune(first)
		if !leftOK {
			prev, _ := utf8.DecodeLastRuneInString(haystack[:start])
			leftOK = !isWordRune(prev)
		}
		rightOK := end == len(haystack) || !isWordRune(last)
		if !rightOK {
			next, _ := utf8.DecodeRuneInString(haystack[end:])
			rightOK = !isWordRune(next)
		}
		if leftOK && rightOK {
			return true
		}

		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
