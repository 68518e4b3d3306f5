package memory

import (
	"encoding/json"
	"sync"
	"testing"
)

type testItem struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestTableNextID(t *testing.T) {
	tb := newTable[testItem]()
	if id := tb.nextID(); id != 1 {
		t.Errorf("expected 1, got %d", id)
	}
	if id := tb.nextID(); id != 2 {
		t.Errorf("expected 2, got %d", id)
	}
}

func TestTableSetOverwriteKeepsOrder(t *testing.T) {
	tb := newTable[testItem]()
	tb.set(1, testItem{Name: "first"})
	tb.set(2, testItem{Name: "second"})
	tb.set(1, testItem{Name: "first again"})

	items := tb.list()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Name != "first again" || items[1].Name != "second" {
		t.Errorf("unexpected order: %+v", items)
	}
}

func TestTableSetAdvancesCounter(t *testing.T) {
	tb := newTable[testItem]()
	tb.set(10, testItem{Name: "explicit"})
	if id := tb.nextID(); id != 11 {
		t.Errorf("expected counter to resume at 11, got %d", id)
	}
}

func TestTableDelete(t *testing.T) {
	tb := newTable[testItem]()
	tb.set(1, testItem{Name: "a"})
	if !tb.delete(1) {
		t.Error("expected delete to report existing item")
	}
	if tb.delete(1) {
		t.Error("expected second delete to report missing item")
	}
	if tb.count(nil) != 0 {
		t.Errorf("expected empty table, got %d", tb.count(nil))
	}
}

func TestTableFilterAndFind(t *testing.T) {
	tb := newTable[testItem]()
	for i, name := range []string{"alpha", "beta", "gamma"} {
		tb.set(int64(i+1), testItem{Name: name, Value: i})
	}
	odd := tb.filter(func(it testItem) bool { return it.Value%2 == 1 })
	if len(odd) != 1 || odd[0].Name != "beta" {
		t.Errorf("unexpected filter result: %+v", odd)
	}
	got, ok := tb.find(func(it testItem) bool { return it.Name == "gamma" })
	if !ok || got.Value != 2 {
		t.Errorf("unexpected find result: %+v %v", got, ok)
	}
	if _, ok := tb.find(func(it testItem) bool { return it.Name == "delta" }); ok {
		t.Error("expected find to miss")
	}
}

func TestTableSnapshotLoad(t *testing.T) {
	tb := newTable[testItem]()
	tb.set(3, testItem{Name: "c"})
	tb.set(1, testItem{Name: "a"})

	data, err := json.Marshal(tb.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap map[int64]testItem
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}

	other := newTable[testItem]()
	other.load(snap)
	items := other.list()
	if len(items) != 2 || items[0].Name != "a" || items[1].Name != "c" {
		t.Errorf("expected ascending ID order after load, got %+v", items)
	}
	if id := other.nextID(); id != 4 {
		t.Errorf("expected counter 4 after load, got %d", id)
	}
}

func TestTableReset(t *testing.T) {
	tb := newTable[testItem]()
	tb.set(tb.nextID(), testItem{Name: "a"})
	tb.reset()
	if tb.count(nil) != 0 {
		t.Error("expected empty table after reset")
	}
	if id := tb.nextID(); id != 1 {
		t.Errorf("expected counter reset, got %d", id)
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	tb := newTable[testItem]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := tb.nextID()
			tb.set(id, testItem{Value: i})
			tb.get(id)
			tb.list()
		}(i)
	}
	wg.Wait()
	if tb.count(nil) != 50 {
		t.Errorf("expected 50 items, got %d", tb.count(nil))
	}
}
