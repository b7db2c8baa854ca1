package bptree

import (
	"fmt"
)

// validate checks the structural invariants of a working copy before it is
// published: strict key ordering, capacity and occupancy bounds, uniform
// leaf depth, separator bounds and an accurate size counter. A non-nil
// error here indicates a bug in the write path, never a caller mistake.
func (t *tree[K, V]) validate() error {
	if t.root == nil {
		return fmt.Errorf("nil root")
	}

	counted, _, err := t.checkNode(t.root, nil, nil, true)
	if err != nil {
		return err
	}

	if counted != t.size {
		return fmt.Errorf("size counter %d does not match %d stored keys", t.size, counted)
	}
	return nil
}

// checkNode validates the subtree rooted at n against the inclusive lower
// bound lo and exclusive upper bound hi, and returns its key count and leaf
// depth.
func (t *tree[K, V]) checkNode(n *node[K, V], lo, hi *K, isRoot bool) (int, int, error) {
	if len(n.keys) > t.fanout {
		return 0, 0, fmt.Errorf("node holds %d keys, fanout is %d", len(n.keys), t.fanout)
	}
	if !isRoot && len(n.keys) < t.fanout/2 {
		return 0, 0, fmt.Errorf("non-root node holds %d keys, minimum is %d", len(n.keys), t.fanout/2)
	}

	for i := 1; i < len(n.keys); i++ {
		if n.keys[i-1] >= n.keys[i] {
			return 0, 0, fmt.Errorf("keys out of order at index %d", i)
		}
	}
	if len(n.keys) > 0 {
		if lo != nil && n.keys[0] < *lo {
			return 0, 0, fmt.Errorf("key below subtree lower bound")
		}
		if hi != nil && n.keys[len(n.keys)-1] >= *hi {
			return 0, 0, fmt.Errorf("key at or above subtree upper bound")
		}
	}

	if n.leaf {
		if len(n.vals) != len(n.keys) {
			return 0, 0, fmt.Errorf("leaf holds %d values for %d keys", len(n.vals), len(n.keys))
		}
		return len(n.keys), 1, nil
	}

	if len(n.kids) != len(n.keys)+1 {
		return 0, 0, fmt.Errorf("branch holds %d children for %d keys", len(n.kids), len(n.keys))
	}

	total := 0
	depth := -1
	for i, kid := range n.kids {
		// A separator bounds its left subtree exclusively from above and
		// its right subtree inclusively from below. Removals may leave a
		// separator naming a key that is no longer stored; routing still
		// works as long as these bounds hold.
		var kidLo, kidHi *K
		if i > 0 {
			kidLo = &n.keys[i-1]
		} else {
			kidLo = lo
		}
		if i < len(n.keys) {
			kidHi = &n.keys[i]
		} else {
			kidHi = hi
		}

		count, kidDepth, err := t.checkNode(kid, kidLo, kidHi, false)
		if err != nil {
			return 0, 0, err
		}
		if depth == -1 {
			depth = kidDepth
		} else if depth != kidDepth {
			return 0, 0, fmt.Errorf("leaves at unequal depth")
		}
		total += count
	}

	return total, depth + 1, nil
}
