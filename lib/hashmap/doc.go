// Package hashmap implements the hash-keyed variant of the concurrently
// readable map: unordered string-keyed lookups over the same epoch and
// transaction machinery as the ordered tree (package bptree).
//
// The snapshot representation is a fixed power-of-two bucket table. Buckets
// are sorted-by-hash entry slices; a write transaction clones the table
// slice once and then clones each bucket it touches, sharing every
// untouched bucket with the previous version. Keys are hashed with seeded
// xxh3; the seed is drawn per instance, so hash distribution cannot be
// constructed against a known layout and two instances never share bucket
// geometry.
//
// The variant differs from the ordered tree only in node layout and lookup
// semantics: iteration order is unspecified, and there are no range scans.
package hashmap
