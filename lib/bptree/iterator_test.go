package bptree

import (
	"fmt"
	"testing"
)

func TestIterFullScan(t *testing.T) {
	m := newSmallTree(t)
	commitInts(t, m, 1, 200)

	r := m.Read()
	defer r.Close()

	it := r.Iter()
	want := 1
	for it.Next() {
		if it.Key() != want {
			t.Fatalf("Expected key %d, got %d", want, it.Key())
		}
		if it.Value() != fmt.Sprintf("value-%d", want) {
			t.Fatalf("Key %d holds %q", want, it.Value())
		}
		want++
	}
	if want != 201 {
		t.Errorf("Scan stopped after %d keys", want-1)
	}

	// Exhausted iterators stay exhausted.
	if it.Next() {
		t.Errorf("Next returned true after exhaustion")
	}
}

func TestIterRangeBounds(t *testing.T) {
	m := newSmallTree(t)
	commitInts(t, m, 1, 100)

	r := m.Read()
	defer r.Close()

	// [from, to) includes the lower bound and excludes the upper.
	it := r.IterRange(10, 20)
	var got []int
	for it.Next() {
		got = append(got, it.Key())
	}
	if len(got) != 10 || got[0] != 10 || got[len(got)-1] != 19 {
		t.Errorf("Expected keys 10..19, got %v", got)
	}

	// Bounds need not be present keys.
	w := m.Write()
	w.Remove(15)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	r2 := m.Read()
	defer r2.Close()

	it = r2.IterRange(15, 18)
	got = got[:0]
	for it.Next() {
		got = append(got, it.Key())
	}
	if len(got) != 2 || got[0] != 16 || got[1] != 17 {
		t.Errorf("Expected keys 16,17, got %v", got)
	}

	// Empty range.
	it = r2.IterRange(50, 50)
	if it.Next() {
		t.Errorf("Empty range yielded key %d", it.Key())
	}
}

func TestIterIgnoresLaterCommits(t *testing.T) {
	m := newSmallTree(t)
	commitInts(t, m, 1, 50)

	r := m.Read()
	defer r.Close()
	it := r.Iter()

	// Advance partway, then commit more keys through another transaction.
	for i := 0; i < 10; i++ {
		if !it.Next() {
			t.Fatalf("Iterator exhausted early at step %d", i)
		}
	}
	commitInts(t, m, 51, 100)

	count := 10
	for it.Next() {
		count++
	}
	if count != 50 {
		t.Errorf("Iterator saw %d keys, snapshot holds 50", count)
	}
}

func TestWriteTxnIter(t *testing.T) {
	m := newSmallTree(t)
	commitInts(t, m, 1, 10)

	w := m.Write()
	w.Insert(11, "value-11")
	w.Remove(5)

	it := w.Iter()
	var got []int
	for it.Next() {
		got = append(got, it.Key())
	}
	if len(got) != 10 {
		t.Fatalf("Expected 10 keys in working copy, got %v", got)
	}
	for _, k := range got {
		if k == 5 {
			t.Errorf("Working-copy iterator yielded removed key 5")
		}
	}
	if got[len(got)-1] != 11 {
		t.Errorf("Working-copy iterator missed pending key 11")
	}

	w.Abort()
}
