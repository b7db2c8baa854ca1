// Package bptree implements the concurrently readable ordered map: a
// copy-on-write B+tree issuing wait-free snapshot read transactions and
// serialized write transactions through the shared transaction machinery
// (package txn).
//
// # Copy-on-write path cloning
//
// Published tree nodes are immutable. A write transaction clones only the
// nodes on the path from the root to the touched leaf; every subtree off
// that path stays shared with the previous version. Each node records the
// id of the write transaction that created it, so a transaction touching
// the same path twice mutates its own clones in place instead of cloning
// again. Reads walk the immutable node graph of their pinned version and
// never allocate or lock.
//
// # Balancing
//
// Nodes hold at most Fanout keys. A node exceeding the bound during an
// insert splits in two, propagating a new separator upward (cloning
// ancestors as needed). A non-root node falling below Fanout/2 keys after a
// removal borrows from or merges with a sibling, applied to clones only.
//
// # Usage
//
//	m, err := bptree.New[string, int](nil)
//
//	w := m.Write()
//	w.Insert("a", 1)
//	if err := w.Commit(); err != nil { ... }
//
//	r := m.Read()
//	defer r.Close()
//	v, ok := r.Get("a")
//
//	it := r.Iter()
//	for it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//
// Range scans are lazy and bound to one fixed version for their duration:
// commits performed while a scan is in progress are invisible to it.
package bptree
