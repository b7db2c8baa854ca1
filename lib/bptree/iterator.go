package bptree

import (
	"cmp"
	"slices"
)

// iterFrame records the descent position inside one branch node.
type iterFrame[K cmp.Ordered, V any] struct {
	n   *node[K, V]
	idx int // next child to descend after the current one is exhausted
}

// Iterator walks a snapshot's key/value pairs in ascending key order. It is
// lazy: leaves are visited on demand and nothing is copied. The iterator is
// bound to one fixed version; commits performed while the scan is in
// progress are invisible to it.
//
//	it := r.Iter()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//
// Thread-safety: an Iterator is owned by one goroutine.
type Iterator[K cmp.Ordered, V any] struct {
	stack []iterFrame[K, V]
	leaf  *node[K, V]
	idx   int
	to    *K // exclusive upper bound, nil = unbounded

	key K
	val V
}

// newIterator positions an iterator at the first key >= from (or the
// minimum key when from is nil).
func newIterator[K cmp.Ordered, V any](t *tree[K, V], from, to *K) *Iterator[K, V] {
	it := &Iterator[K, V]{to: to}

	n := t.root
	for !n.leaf {
		idx := 0
		if from != nil {
			idx = n.childIdx(*from)
		}
		it.stack = append(it.stack, iterFrame[K, V]{n: n, idx: idx + 1})
		n = n.kids[idx]
	}

	it.leaf = n
	if from != nil {
		pos, _ := slices.BinarySearch(n.keys, *from)
		it.idx = pos
	}

	return it
}

// Next advances to the next pair, returning false when the scan is
// exhausted or the upper bound is reached.
func (it *Iterator[K, V]) Next() bool {
	for {
		if it.leaf == nil {
			return false
		}

		if it.idx < len(it.leaf.keys) {
			k := it.leaf.keys[it.idx]
			if it.to != nil && k >= *it.to {
				it.leaf = nil
				return false
			}
			it.key = k
			it.val = it.leaf.vals[it.idx]
			it.idx++
			return true
		}

		it.nextLeaf()
	}
}

// nextLeaf ascends to the nearest ancestor with unvisited children and
// descends to the leftmost leaf below the next one.
func (it *Iterator[K, V]) nextLeaf() {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.idx >= len(top.n.kids) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		n := top.n.kids[top.idx]
		top.idx++
		for !n.leaf {
			it.stack = append(it.stack, iterFrame[K, V]{n: n, idx: 1})
			n = n.kids[0]
		}

		it.leaf = n
		it.idx = 0
		return
	}

	it.leaf = nil
}

// Key returns the key at the current position. Only valid after a Next
// call that returned true.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value at the current position. Only valid after a Next
// call that returned true.
func (it *Iterator[K, V]) Value() V {
	return it.val
}
