package registry

import (
	"sync"
	"sync/atomic"
	"testing"
)

type item struct{ name string }

func TestInsert_refuses_live_key(t *testing.T) {
	r := New[string, *item]()
	a, b := &item{"a"}, &item{"b"}

	if err := r.Insert("live_index_1", a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := r.Insert("live_index_1", b); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, ok := r.Get("live_index_1")
	if !ok || got != a {
		t.Errorf("expected original value to stay, got %v", got)
	}
}

func TestRemove_is_compare_and_delete(t *testing.T) {
	r := New[string, *item]()
	old, fresh := &item{"old"}, &item{"fresh"}

	_ = r.Insert("k", old)
	if !r.Remove("k", old) {
		t.Fatal("expected removal of current value")
	}
	_ = r.Insert("k", fresh)

	if r.Remove("k", old) {
		t.Error("stale value must not remove newer entry")
	}
	if got, _ := r.Get("k"); got != fresh {
		t.Error("expected fresh value to survive")
	}
}

func TestRemove_exactly_once_under_contention(t *testing.T) {
	r := New[int, *item]()
	v := &item{"x"}
	_ = r.Insert(7, v)

	var removed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove(7, v) {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	if removed.Load() != 1 {
		t.Errorf("expected exactly one removal, got %d", removed.Load())
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestDelete_and_Range(t *testing.T) {
	r := New[string, *item]()
	_ = r.Insert("b", &item{"b"})
	_ = r.Insert("a", &item{"a"})

	if keys := SortedKeys(r); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("unexpected keys %v", keys)
	}

	r.Range(func(k string, _ *item) bool {
		r.Delete(k)
		return true
	})
	if r.Len() != 0 {
		t.Errorf("Range should allow mutation, %d left", r.Len())
	}
	if _, ok := r.Delete("a"); ok {
		t.Error("delete of absent key should report false")
	}
}

func TestDelete_ignores_identity(t *testing.T) {
	r := New[string, *item]()
	old, cur := &item{"old"}, &item{"cur"}
	_ = r.Insert("k", cur)

	if r.Remove("k", old) {
		t.Fatal("Remove of a stale value must keep the current one")
	}
	got, ok := r.Delete("k")
	if !ok || got != cur {
		t.Errorf("Delete returned %v, %v; want the current value", got, ok)
	}
	if r.Has("k") {
		t.Error("key should be gone after Delete")
	}
}

func TestListRegistry_prunes_empty_keys(t *testing.T) {
	r := NewList[string, *item]()
	a, b := &item{"a"}, &item{"b"}
	r.Append("conn", a)
	r.Append("conn", b)

	if r.Count() != 2 || r.Len() != 1 {
		t.Fatalf("expected 1 key with 2 values, got %d/%d", r.Len(), r.Count())
	}
	if !r.Remove("conn", a) {
		t.Fatal("expected a to be removed")
	}
	if r.Remove("conn", a) {
		t.Error("second removal should report false")
	}
	if !r.Has("conn") {
		t.Error("key should remain while b is listed")
	}
	r.Remove("conn", b)
	if r.Has("conn") || r.Len() != 0 {
		t.Error("empty list must be pruned")
	}
}

func TestListRegistry_Get_returns_copy(t *testing.T) {
	r := NewList[string, *item]()
	r.Append("k", &item{"a"})
	lst := r.Get("k")
	lst[0] = nil
	if r.Get("k")[0] == nil {
		t.Error("Get must not expose internal slice")
	}
}
