// Package arcache implements a concurrently readable cache with an adaptive
// replacement policy (ARC) on top of the same epoch and transaction
// machinery as the other engines.
//
// The policy tracks four ledgers. t1 holds resident entries seen exactly
// once, t2 resident entries seen at least twice. b1 and b2 are ghost
// ledgers: they remember recently evicted keys from t1 and t2 without
// retaining their values. A hit on a ghost is evidence that the
// corresponding resident ledger is sized too small, so the adaptive target
// shifts toward it. The target p is the desired size of t1; eviction
// demotes from whichever resident ledger exceeds its share.
//
// The whole policy state, ledgers, target and resident values together, is
// one immutable snapshot. A write transaction deep-clones it, applies hits,
// inserts and removals, and publishes the result atomically, so readers
// always observe a self-consistent cache and recency metadata never goes
// through a half-applied state. The clone is O(capacity); the capacity
// bound keeps write transactions cheap.
//
// Lookups through a read transaction are pure: they report hits and misses
// to telemetry but never touch recency. Only lookups through a write
// transaction promote entries.
package arcache
