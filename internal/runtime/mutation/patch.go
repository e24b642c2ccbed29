package mutation

import (
	"encoding/json"
	"fmt"

	"github.com/l0p7/influencehub/internal/runtime/query"
)

// Patch computes the speculative next value of a cached payload.
type Patch[T any] func(prev T) T

// Optimistic is one cache write a mutation applies before (OnMutate) or after
// (Reconcile) its network call.
type Optimistic struct {
	Key   string
	apply func(entry query.Entry) (value any, skip bool, err error)
}

// PatchKey decodes the cached payload at key into T, applies patch and writes
// the result back. Keys with no cached payload are left untouched.
func PatchKey[T any](key string, patch Patch[T]) Optimistic {
	return Optimistic{
		Key: key,
		apply: func(entry query.Entry) (any, bool, error) {
			if !entry.HasData() {
				return nil, true, nil
			}
			var prev T
			if err := json.Unmarshal(entry.Data, &prev); err != nil {
				return nil, false, fmt.Errorf("mutation: decode %s: %w", key, err)
			}
			return patch(prev), false, nil
		},
	}
}

// SetKey writes value at key regardless of what is cached.
func SetKey(key string, value any) Optimistic {
	return Optimistic{
		Key: key,
		apply: func(query.Entry) (any, bool, error) {
			return value, false, nil
		},
	}
}

// ReplaceByID returns a patch that swaps the element whose id matches with
// next. Lists without a match are returned unchanged.
func ReplaceByID[T any](id func(T) int64, next T) Patch[[]T] {
	want := id(next)
	return func(prev []T) []T {
		out := make([]T, len(prev))
		for i, item := range prev {
			if id(item) == want {
				out[i] = next
				continue
			}
			out[i] = item
		}
		return out
	}
}

// UpdateByID returns a patch that rewrites the element with the given id.
func UpdateByID[T any](id func(T) int64, target int64, update func(T) T) Patch[[]T] {
	return func(prev []T) []T {
		out := make([]T, len(prev))
		for i, item := range prev {
			if id(item) == target {
				out[i] = update(item)
				continue
			}
			out[i] = item
		}
		return out
	}
}

// RemoveByID returns a patch that drops the element with the given id.
func RemoveByID[T any](id func(T) int64, target int64) Patch[[]T] {
	return func(prev []T) []T {
		out := make([]T, 0, len(prev))
		for _, item := range prev {
			if id(item) != target {
				out = append(out, item)
			}
		}
		return out
	}
}

// Prepend returns a patch that inserts item at the head of the list.
func Prepend[T any](item T) Patch[[]T] {
	return func(prev []T) []T {
		out := make([]T, 0, len(prev)+1)
		out = append(out, item)
		return append(out, prev...)
	}
}
