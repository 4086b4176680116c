package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_FindMatches(t *testing.T) {
	store, _ := newLoadedStore(t)
	matcher := NewMatcher(store)

	tests := []struct {
		name     string
		text     string
		category string
		allowed  []string
		want     []string
	}{
		{
			name:     "case insensitive",
			text:     "Requests from WINDOWS clients",
			category: CategoryOS,
			want:     []string{"Windows"},
		},
		{
			name:     "deduplicates targets",
			text:     "py and python",
			category: CategoryProduct,
			want:     []string{"Python-SDK"},
		},
		{
			name:     "allow list filters targets",
			text:     "js usage",
			category: CategoryProduct,
			allowed:  []string{"JavaScript RLC"},
			want:     []string{"JavaScript RLC"},
		},
		{
			name:     "empty allow list filters everything",
			text:     "js usage",
			category: CategoryProduct,
			allowed:  []string{},
			want:     []string{},
		},
		{
			name:     "substring false positive is expected",
			text:     "traffic from the internet",
			category: CategoryProvider,
			want:     []string{"Microsoft.Network"},
		},
		{
			name:     "no alias present",
			text:     "monthly totals",
			category: CategoryOS,
			want:     []string{},
		},
		{
			name:     "unknown category",
			text:     "windows",
			category: "nope",
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matcher.FindMatches(tt.text, tt.category, tt.allowed))
		})
	}
}

func TestMatcher_AliasMatchesItself(t *testing.T) {
	// aliases in this set never contain one another
	store, _ := newLoadedStore(t)
	matcher := NewMatcher(store)

	for _, category := range []string{CategoryOS, CategoryHTTPMethod, CategoryResource, CategoryTime} {
		for alias, targets := range store.Category(category) {
			assert.ElementsMatch(t, targets, matcher.FindMatches(alias, category, nil), "%s/%s", category, alias)
		}
	}
}

func TestMatcher_FindProducts(t *testing.T) {
	store, _ := newLoadedStore(t)
	matcher := NewMatcher(store)

	tests := []struct {
		name      string
		text      string
		available []string
		want      []string
	}{
		{
			name:      "aliases restricted to available products",
			text:      "show me js and python usage",
			available: []string{"JavaScript", "Python-SDK", "Java Fluent"},
			want:      []string{"JavaScript", "Python-SDK"},
		},
		{
			name:      "direct mention wins over aliases",
			text:      "Python-SDK usage vs js",
			available: []string{"Python-SDK", "JavaScript"},
			want:      []string{"Python-SDK"},
		},
		{
			name:      "direct mention is case insensitive",
			text:      "python-sdk requests",
			available: []string{"Python-SDK"},
			want:      []string{"Python-SDK"},
		},
		{
			name:      "nil available resolves nothing through aliases",
			text:      "java usage",
			available: nil,
			want:      []string{},
		},
		{
			name:      "nothing matches",
			text:      "monthly totals",
			available: []string{"Go-SDK"},
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matcher.FindProducts(tt.text, tt.available))
		})
	}
}

func TestMatcher_IsDeterministic(t *testing.T) {
	store, _ := newLoadedStore(t)
	matcher := NewMatcher(store)

	first := matcher.FindMatches("js java python py", CategoryProduct, nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, matcher.FindMatches("js java python py", CategoryProduct, nil))
	}
}

func TestMatcher_WholeWord(t *testing.T) {
	store, _ := newLoadedStore(t)
	loose := NewMatcher(store)
	strict := NewMatcher(store, WithWholeWord(true))

	tests := []struct {
		name      string
		text      string
		category  string
		wantLoose []string
		wantWhole []string
	}{
		{
			name:      "inside a word",
			text:      "traffic from the internet",
			category:  CategoryProvider,
			wantLoose: []string{"Microsoft.Network"},
			wantWhole: []string{},
		},
		{
			name:      "standalone word",
			text:      "net traffic",
			category:  CategoryProvider,
			wantLoose: []string{"Microsoft.Network"},
			wantWhole: []string{"Microsoft.Network"},
		},
		{
			name:      "punctuation is a boundary",
			text:      "(net)",
			category:  CategoryProvider,
			wantLoose: []string{"Microsoft.Network"},
			wantWhole: []string{"Microsoft.Network"},
		},
		{
			name:      "later occurrence qualifies",
			text:      "javascript or java?",
			category:  CategoryProduct,
			wantLoose: []string{"Java Fluent Lite", "Java Fluent Premium"},
			wantWhole: []string{"Java Fluent Lite", "Java Fluent Premium"},
		},
		{
			name:      "multi word alias",
			text:      "requests more than 100",
			category:  CategoryComparison,
			wantLoose: []string{"> value"},
			wantWhole: []string{"> value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLoose, loose.FindMatches(tt.text, tt.category, nil))
			assert.Equal(t, tt.wantWhole, strict.FindMatches(tt.text, tt.category, nil))
		})
	}
}

func TestMatcher_FindAll(t *testing.T) {
	store, _ := newLoadedStore(t)
	matcher := NewMatcher(store)

	got := matcher.FindAll("top python GET calls on windows vm")
	assert.Equal(t, []string{"Python-SDK"}, got[CategoryProduct])
	assert.Equal(t, []string{"Windows"}, got[CategoryOS])
	assert.Equal(t, []string{"GET"}, got[CategoryHTTPMethod])
	assert.Equal(t, []string{"virtualMachines"}, got[CategoryResource])
	assert.Equal(t, []string{"TOP"}, got[CategoryQuantity])
	assert.NotContains(t, got, CategoryTime)
}
