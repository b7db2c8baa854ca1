package bptree

import (
	"cmp"
	"slices"
)

// node is one branch or leaf of the tree. Nodes are immutable once their
// creating write transaction commits; they may be referenced by multiple
// versions simultaneously (structural sharing).
//
// Layout invariants:
//   - keys are strictly ascending
//   - leaf: len(vals) == len(keys)
//   - branch: len(kids) == len(keys)+1; keys[i] is greater than every key
//     in kids[i] and at most the minimum key of kids[i+1], so a lookup for
//     k == keys[i] descends right. A removal may leave a separator naming
//     a key that is no longer stored; the bounds above keep holding.
type node[K cmp.Ordered, V any] struct {
	// txid identifies the write transaction that created this node. A
	// write transaction may mutate in place only nodes carrying its own id;
	// all others are cloned first.
	txid uint64

	leaf bool
	keys []K
	vals []V
	kids []*node[K, V]
}

// childIdx returns the index of the child to descend for key k.
func (n *node[K, V]) childIdx(k K) int {
	pos, found := slices.BinarySearch(n.keys, k)
	if found {
		return pos + 1
	}
	return pos
}

// tree is one immutable snapshot of the map. The struct itself is cloned
// per write transaction (cheap, the root is shared until touched).
type tree[K cmp.Ordered, V any] struct {
	root   *node[K, V]
	size   int
	fanout int
}

func newTree[K cmp.Ordered, V any](fanout int) *tree[K, V] {
	return &tree[K, V]{
		root:   &node[K, V]{leaf: true},
		fanout: fanout,
	}
}

// cloneTree derives a working copy for a write transaction. The node graph
// is shared; path cloning happens lazily as the writer touches nodes.
func cloneTree[K cmp.Ordered, V any](t *tree[K, V]) *tree[K, V] {
	c := *t
	return &c
}

// get walks the immutable node graph. No allocation, no locking.
func (t *tree[K, V]) get(k K) (V, bool) {
	n := t.root
	for !n.leaf {
		n = n.kids[n.childIdx(k)]
	}

	pos, found := slices.BinarySearch(n.keys, k)
	if !found {
		var zero V
		return zero, false
	}
	return n.vals[pos], true
}

// first returns the minimum key and its value.
func (t *tree[K, V]) first() (K, V, bool) {
	n := t.root
	for !n.leaf {
		n = n.kids[0]
	}
	if len(n.keys) == 0 {
		var k K
		var v V
		return k, v, false
	}
	return n.keys[0], n.vals[0], true
}

// last returns the maximum key and its value.
func (t *tree[K, V]) last() (K, V, bool) {
	n := t.root
	for !n.leaf {
		n = n.kids[len(n.kids)-1]
	}
	if len(n.keys) == 0 {
		var k K
		var v V
		return k, v, false
	}
	i := len(n.keys) - 1
	return n.keys[i], n.vals[i], true
}
