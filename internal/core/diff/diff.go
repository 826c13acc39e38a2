// Package diff classifies a batch of container mutations into created,
// deleted and updated items.
package diff

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Result partitions one batch by identity. Every key of the input appears in
// exactly one of the three slices.
type Result[T any] struct {
	Created []T
	Deleted []T
	// Updated holds the added version of every item that was both deleted and
	// added in the batch.
	Updated []T
}

func (r Result[T]) Empty() bool {
	return len(r.Created) == 0 && len(r.Deleted) == 0 && len(r.Updated) == 0
}

func (r Result[T]) Len() int {
	return len(r.Created) + len(r.Deleted) + len(r.Updated)
}

// Compute classifies deleted and added items by key. A key present on both
// sides is an update, modeled upstream as delete and reinsert. Output keeps
// input order. When added holds the same key twice the later item wins and
// takes the position of the first one.
func Compute[T any](deleted, added []T, key func(T) string) Result[T] {
	deletedKeys := mapset.NewThreadUnsafeSetWithSize[string](len(deleted))
	for _, item := range deleted {
		deletedKeys.Add(key(item))
	}

	addedKeys := mapset.NewThreadUnsafeSetWithSize[string](len(added))
	latest := make(map[string]T, len(added))
	order := make([]string, 0, len(added))
	for _, item := range added {
		k := key(item)
		if addedKeys.Add(k) {
			order = append(order, k)
		}
		latest[k] = item
	}

	var res Result[T]
	for _, k := range order {
		if deletedKeys.Contains(k) {
			res.Updated = append(res.Updated, latest[k])
		} else {
			res.Created = append(res.Created, latest[k])
		}
	}

	seen := mapset.NewThreadUnsafeSetWithSize[string](len(deleted))
	for _, item := range deleted {
		k := key(item)
		if addedKeys.Contains(k) || !seen.Add(k) {
			continue
		}
		res.Deleted = append(res.Deleted, item)
	}
	return res
}

// Keys returns the keys of items in order.
func Keys[T any](items []T, key func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = key(item)
	}
	return out
}
