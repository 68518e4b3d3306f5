package memory

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// sorter maps a sort field to a comparison function.
type sorter[T any] map[string]func(a, b T) int

// page sorts items per p and returns the requested slice as a page.
func page[T any](items []T, p store.ListParams, allowed []string, def store.SortSpec, by sorter[T]) (store.Page[T], error) {
	p = p.Normalize()
	spec, err := store.ParseSort(p.Sort, allowed, def)
	if err != nil {
		return store.Page[T]{}, err
	}
	if less, ok := by[spec.Field]; ok {
		slices.SortStableFunc(items, func(a, b T) int {
			if spec.Desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	total := len(items)
	if p.Unpaged {
		return store.NewPage(items, total, p), nil
	}
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PerPage
	if end > total {
		end = total
	}
	return store.NewPage(slices.Clone(items[start:end]), total, p), nil
}

// containsFold reports whether any of fields contains q, case-insensitively.
func containsFold(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// eqFilter reports whether the filter is unset or equals v (case-insensitive).
func eqFilter(p store.ListParams, key, v string) bool {
	want, ok := p.Filter(key)
	return !ok || strings.EqualFold(want, v)
}

func idFilter(p store.ListParams, key string, v int64) bool {
	want, ok := p.Filter(key)
	if !ok {
		return true
	}
	n, err := strconv.ParseInt(want, 10, 64)
	return err == nil && n == v
}

func optIDFilter(p store.ListParams, key string, v *int64) bool {
	if _, ok := p.Filter(key); !ok {
		return true
	}
	return v != nil && idFilter(p, key, *v)
}

func boolFilter(p store.ListParams, key string, v bool) bool {
	want, ok := p.Filter(key)
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(want)
	return err == nil && b == v
}

func byID[T any](id func(T) int64) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(id(a), id(b)) }
}

func byString[T any](f func(T) string) func(a, b T) int {
	return func(a, b T) int { return strings.Compare(strings.ToLower(f(a)), strings.ToLower(f(b))) }
}
