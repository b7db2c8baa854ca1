package bptree

import (
	"cmp"
	"slices"
)

// writer performs path-cloning mutations on behalf of one write
// transaction. All mutation goes through mutable(), so nodes shared with
// published versions are never touched in place.
type writer[K cmp.Ordered, V any] struct {
	txid   uint64
	fanout int
}

// minKeys is the minimum occupancy of a non-root node.
func (wr *writer[K, V]) minKeys() int {
	return wr.fanout / 2
}

// mutable returns n if this transaction created it, otherwise a clone owned
// by this transaction.
func (wr *writer[K, V]) mutable(n *node[K, V]) *node[K, V] {
	if n.txid == wr.txid {
		return n
	}

	c := &node[K, V]{txid: wr.txid, leaf: n.leaf, keys: slices.Clone(n.keys)}
	if n.leaf {
		c.vals = slices.Clone(n.vals)
	} else {
		c.kids = slices.Clone(n.kids)
	}
	return c
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

// insert puts k/v into the subtree rooted at n, cloning the descent path.
// It returns the (possibly cloned) subtree root, the new right sibling and
// its separator if the node split, and the previous value if k existed.
func (wr *writer[K, V]) insert(n *node[K, V], k K, v V) (self *node[K, V], sep K, right *node[K, V], prev V, existed bool) {
	m := wr.mutable(n)

	if m.leaf {
		pos, found := slices.BinarySearch(m.keys, k)
		if found {
			prev = m.vals[pos]
			m.vals[pos] = v
			return m, sep, nil, prev, true
		}

		m.keys = slices.Insert(m.keys, pos, k)
		m.vals = slices.Insert(m.vals, pos, v)

		if len(m.keys) > wr.fanout {
			sep, right = wr.splitLeaf(m)
		}
		return m, sep, right, prev, false
	}

	idx := m.childIdx(k)
	child, childSep, childRight, prev, existed := wr.insert(m.kids[idx], k, v)
	m.kids[idx] = child

	if childRight != nil {
		m.keys = slices.Insert(m.keys, idx, childSep)
		m.kids = slices.Insert(m.kids, idx+1, childRight)

		if len(m.keys) > wr.fanout {
			sep, right = wr.splitBranch(m)
		}
	}

	return m, sep, right, prev, existed
}

// splitLeaf moves the upper half of an overflowing leaf into a new right
// sibling and returns the separator (the sibling's minimum key).
func (wr *writer[K, V]) splitLeaf(m *node[K, V]) (K, *node[K, V]) {
	mid := len(m.keys) / 2

	right := &node[K, V]{
		txid: wr.txid,
		leaf: true,
		keys: slices.Clone(m.keys[mid:]),
		vals: slices.Clone(m.vals[mid:]),
	}
	m.keys = m.keys[:mid:mid]
	m.vals = m.vals[:mid:mid]

	return right.keys[0], right
}

// splitBranch moves the upper half of an overflowing branch into a new
// right sibling; the middle key moves up as the separator.
func (wr *writer[K, V]) splitBranch(m *node[K, V]) (K, *node[K, V]) {
	mid := len(m.keys) / 2
	sep := m.keys[mid]

	right := &node[K, V]{
		txid: wr.txid,
		keys: slices.Clone(m.keys[mid+1:]),
		kids: slices.Clone(m.kids[mid+1:]),
	}
	m.keys = m.keys[:mid:mid]
	m.kids = m.kids[: mid+1 : mid+1]

	return sep, right
}

// insertRoot applies an insert to the whole tree, growing a new root level
// when the old root splits.
func (wr *writer[K, V]) insertRoot(t *tree[K, V], k K, v V) (V, bool) {
	root, sep, right, prev, existed := wr.insert(t.root, k, v)

	if right != nil {
		root = &node[K, V]{
			txid: wr.txid,
			keys: []K{sep},
			kids: []*node[K, V]{root, right},
		}
	}

	t.root = root
	if !existed {
		t.size++
	}
	return prev, existed
}

// --------------------------------------------------------------------------
// Remove
// --------------------------------------------------------------------------

// remove deletes k from the subtree rooted at n, cloning the descent path
// and rebalancing underfull children on the way back up.
func (wr *writer[K, V]) remove(n *node[K, V], k K) (self *node[K, V], removed V, existed bool) {
	if n.leaf {
		pos, found := slices.BinarySearch(n.keys, k)
		if !found {
			return n, removed, false
		}

		m := wr.mutable(n)
		removed = m.vals[pos]
		m.keys = slices.Delete(m.keys, pos, pos+1)
		m.vals = slices.Delete(m.vals, pos, pos+1)
		return m, removed, true
	}

	idx := n.childIdx(k)
	child, removed, existed := wr.remove(n.kids[idx], k)
	if !existed {
		return n, removed, false
	}

	m := wr.mutable(n)
	m.kids[idx] = child

	if len(child.keys) < wr.minKeys() {
		wr.rebalance(m, idx)
	}
	return m, removed, true
}

// rebalance restores minimum occupancy of m.kids[idx] by borrowing from a
// sibling with spare keys, or merging with one otherwise. m and the touched
// children are clones owned by this transaction after the call.
func (wr *writer[K, V]) rebalance(m *node[K, V], idx int) {
	if idx > 0 && len(m.kids[idx-1].keys) > wr.minKeys() {
		wr.borrowFromLeft(m, idx)
		return
	}
	if idx < len(m.kids)-1 && len(m.kids[idx+1].keys) > wr.minKeys() {
		wr.borrowFromRight(m, idx)
		return
	}

	// Merge with a sibling. Prefer the left one so the merged node keeps
	// the smaller key range.
	if idx > 0 {
		wr.merge(m, idx-1)
	} else {
		wr.merge(m, idx)
	}
}

// borrowFromLeft shifts the left sibling's greatest entry into m.kids[idx].
func (wr *writer[K, V]) borrowFromLeft(m *node[K, V], idx int) {
	left := wr.mutable(m.kids[idx-1])
	child := wr.mutable(m.kids[idx])
	m.kids[idx-1] = left
	m.kids[idx] = child

	last := len(left.keys) - 1
	if child.leaf {
		child.keys = slices.Insert(child.keys, 0, left.keys[last])
		child.vals = slices.Insert(child.vals, 0, left.vals[last])
		left.keys = left.keys[:last:last]
		left.vals = left.vals[:last:last]
		m.keys[idx-1] = child.keys[0]
	} else {
		// Rotate through the parent separator: the left sibling's greatest
		// key becomes the new separator, the old separator descends.
		child.keys = slices.Insert(child.keys, 0, m.keys[idx-1])
		child.kids = slices.Insert(child.kids, 0, left.kids[len(left.kids)-1])
		m.keys[idx-1] = left.keys[last]
		left.keys = left.keys[:last:last]
		left.kids = left.kids[:len(left.kids)-1 : len(left.kids)-1]
	}
}

// borrowFromRight shifts the right sibling's least entry into m.kids[idx].
func (wr *writer[K, V]) borrowFromRight(m *node[K, V], idx int) {
	child := wr.mutable(m.kids[idx])
	right := wr.mutable(m.kids[idx+1])
	m.kids[idx] = child
	m.kids[idx+1] = right

	if child.leaf {
		child.keys = append(child.keys, right.keys[0])
		child.vals = append(child.vals, right.vals[0])
		right.keys = slices.Delete(right.keys, 0, 1)
		right.vals = slices.Delete(right.vals, 0, 1)
		m.keys[idx] = right.keys[0]
	} else {
		child.keys = append(child.keys, m.keys[idx])
		child.kids = append(child.kids, right.kids[0])
		m.keys[idx] = right.keys[0]
		right.keys = slices.Delete(right.keys, 0, 1)
		right.kids = slices.Delete(right.kids, 0, 1)
	}
}

// merge folds m.kids[idx+1] into m.kids[idx] and drops the separator.
func (wr *writer[K, V]) merge(m *node[K, V], idx int) {
	left := wr.mutable(m.kids[idx])
	right := m.kids[idx+1]
	m.kids[idx] = left

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
	} else {
		left.keys = append(left.keys, m.keys[idx])
		left.keys = append(left.keys, right.keys...)
		left.kids = append(left.kids, right.kids...)
	}

	m.keys = slices.Delete(m.keys, idx, idx+1)
	m.kids = slices.Delete(m.kids, idx+1, idx+2)
}

// removeRoot applies a removal to the whole tree, collapsing the root level
// when it becomes a single-child branch.
func (wr *writer[K, V]) removeRoot(t *tree[K, V], k K) (V, bool) {
	root, removed, existed := wr.remove(t.root, k)
	if !existed {
		return removed, false
	}

	for !root.leaf && len(root.kids) == 1 {
		root = root.kids[0]
	}

	t.root = root
	t.size--
	return removed, true
}
