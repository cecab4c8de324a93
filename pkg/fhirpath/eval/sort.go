package eval

import (
	"sort"

	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

// sortStable stable-sorts col in place using cmp, treating compare errors
// as "equal" so a malformed comparison never panics mid-sort.
func sortStable(col types.Collection, cmp func(a, b types.Value) (int, error)) {
	sort.SliceStable(col, func(i, j int) bool {
		c, err := cmp(col[i], col[j])
		if err != nil {
			return false
		}
		return c < 0
	})
}

// sortStableIndexed stable-sorts col in place by the parallel keys slice
// (one derived sort key per element of col), used by sort(criteria) where
// the comparison key is computed once per element rather than read off
// the element itself.
func sortStableIndexed(col types.Collection, keys []types.Value, cmp func(a, b types.Value) (int, error)) {
	n := len(col)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c, err := cmp(keys[idx[i]], keys[idx[j]])
		if err != nil {
			return false
		}
		return c < 0
	})
	sortedCol := make(types.Collection, n)
	for i, k := range idx {
		sortedCol[i] = col[k]
	}
	copy(col, sortedCol)
}

// sortStableWrapped is sortStable's WrappedCollection counterpart, used by
// sort() with no criteria so each element keeps its own navigation path
// through the reorder.
func sortStableWrapped(col types.WrappedCollection, cmp func(a, b types.Value) (int, error)) {
	sort.SliceStable(col, func(i, j int) bool {
		c, err := cmp(col[i].Value, col[j].Value)
		if err != nil {
			return false
		}
		return c < 0
	})
}

// sortStableIndexedWrapped is sortStableIndexed's WrappedCollection
// counterpart, used by sort(criteria).
func sortStableIndexedWrapped(col types.WrappedCollection, keys []types.Value, cmp func(a, b types.Value) (int, error)) {
	n := len(col)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c, err := cmp(keys[idx[i]], keys[idx[j]])
		if err != nil {
			return false
		}
		return c < 0
	})
	sortedCol := make(types.WrappedCollection, n)
	for i, k := range idx {
		sortedCol[i] = col[k]
	}
	copy(col, sortedCol)
}
