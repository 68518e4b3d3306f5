package memory

import (
	"sort"
	"sync"
)

// table is a thread-safe, insertion-ordered collection of T keyed by a
// monotonically increasing int64 ID.
type table[T any] struct {
	mu      sync.RWMutex
	items   map[int64]T
	order   []int64
	counter int64
}

func newTable[T any]() *table[T] {
	return &table[T]{
		items: make(map[int64]T),
		order: make([]int64, 0),
	}
}

// nextID reserves the next ID.
func (t *table[T]) nextID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	return t.counter
}

// set stores item under id. Overwriting keeps the original position.
func (t *table[T]) set(id int64, item T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[id]; !exists {
		t.order = append(t.order, id)
	}
	t.items[id] = item
	if id > t.counter {
		t.counter = id
	}
}

func (t *table[T]) get(id int64) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	return item, ok
}

func (t *table[T]) delete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[id]; !exists {
		return false
	}
	delete(t.items, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// list returns all items in insertion order.
func (t *table[T]) list() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.items[id])
	}
	return out
}

// filter returns matching items in insertion order.
func (t *table[T]) filter(pred func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []T
	for _, id := range t.order {
		if pred(t.items[id]) {
			out = append(out, t.items[id])
		}
	}
	return out
}

// find returns the first matching item.
func (t *table[T]) find(pred func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		if pred(t.items[id]) {
			return t.items[id], true
		}
	}
	var zero T
	return zero, false
}

func (t *table[T]) count(pred func(T) bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, id := range t.order {
		if pred == nil || pred(t.items[id]) {
			n++
		}
	}
	return n
}

func (t *table[T]) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[int64]T)
	t.order = make([]int64, 0)
	t.counter = 0
}

// snapshot returns the items keyed by ID.
func (t *table[T]) snapshot() map[int64]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int64]T, len(t.items))
	for k, v := range t.items {
		out[k] = v
	}
	return out
}

// load replaces all items. Order follows ascending ID and the counter
// resumes after the largest ID.
func (t *table[T]) load(items map[int64]T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[int64]T, len(items))
	t.order = make([]int64, 0, len(items))
	t.counter = 0
	for k, v := range items {
		t.items[k] = v
		t.order = append(t.order, k)
		if k > t.counter {
			t.counter = k
		}
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
}
