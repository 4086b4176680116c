package alias

import "sort"

// ReverseIndex maps a canonical product to the alias keys that resolve to it.
// It is not safe for concurrent use; Store guards it with the configuration lock.
type ReverseIndex struct {
	byTarget map[string]map[string]struct{}
}

// NewReverseIndex builds the index from a product alias category
func NewReverseIndex(products map[string][]string) *ReverseIndex {
	idx := &ReverseIndex{byTarget: make(map[string]map[string]struct{})}
	for alias, targets := range products {
		idx.add(alias, targets)
	}
	return idx
}

func (idx *ReverseIndex) add(alias string, targets []string) {
	for _, target := range targets {
		set, ok := idx.byTarget[target]
		if !ok {
			set = make(map[string]struct{})
			idx.byTarget[target] = set
		}
		set[alias] = struct{}{}
	}
}

func (idx *ReverseIndex) remove(alias string, targets []string) {
	for _, target := range targets {
		set, ok := idx.byTarget[target]
		if !ok {
			continue
		}
		delete(set, alias)
		if len(set) == 0 {
			delete(idx.byTarget, target)
		}
	}
}

// Replace moves alias from its previous targets to the new ones
func (idx *ReverseIndex) Replace(alias string, previous, targets []string) {
	idx.remove(alias, previous)
	idx.add(alias, targets)
}

// Aliases returns the sorted alias keys that resolve to product
func (idx *ReverseIndex) Aliases(product string) []string {
	set := idx.byTarget[product]
	out := make([]string, 0, len(set))
	for alias := range set {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Products returns every indexed product, sorted
func (idx *ReverseIndex) Products() []string {
	out := make([]string, 0, len(idx.byTarget))
	for product := range idx.byTarget {
		out = append(out, product)
	}
	sort.Strings(out)
	return out
}
