package hashmap

import (
	"errors"
	"slices"
	"time"

	"github.com/korecekm/concread/lib/telemetry"
	"github.com/korecekm/concread/lib/txn"
	"github.com/korecekm/concread/lib/util"
	"github.com/zeebo/xxh3"
)

// Construction errors.
var (
	ErrInvalidBuckets = errors.New("bucket count must be a power of two >= 8")
)

// defaultBuckets is the table width used when no option is given.
const defaultBuckets = 64

// Options configures a HashMap during construction.
type Options struct {
	// Buckets is the fixed table width; must be a power of two >= 8.
	Buckets int

	// Telemetry receives the map's counters. nil creates a private
	// instance.
	Telemetry *telemetry.Telemetry
}

// DefaultOptions returns the default HashMap options.
func DefaultOptions() *Options {
	return &Options{
		Buckets: defaultBuckets,
	}
}

// --------------------------------------------------------------------------
// Snapshot representation
// --------------------------------------------------------------------------

// entry is one key-value pair, ordered within its bucket by (hash, key).
type entry[V any] struct {
	hash uint64
	key  string
	val  V
}

// bucket is an immutable-once-published slice of entries. Like tree nodes,
// a bucket carries the id of the write transaction that created it so the
// writer can mutate its own clones in place.
type bucket[V any] struct {
	txid    uint64
	entries []entry[V]
}

// table is one immutable snapshot of the map.
type table[V any] struct {
	buckets []*bucket[V]
	size    int
}

// cloneTable derives a working copy: the bucket slice is cloned, the
// buckets themselves stay shared until touched.
func cloneTable[V any](t *table[V]) *table[V] {
	return &table[V]{
		buckets: slices.Clone(t.buckets),
		size:    t.size,
	}
}

// find locates key within a bucket by binary search on the hash followed by
// a linear scan over the colliding run, which is itself ordered by key. On a
// miss the returned index is the insertion position preserving (hash, key)
// order.
func (b *bucket[V]) find(hash uint64, key string) (int, bool) {
	pos, _ := slices.BinarySearchFunc(b.entries, hash, func(e entry[V], h uint64) int {
		switch {
		case e.hash < h:
			return -1
		case e.hash > h:
			return 1
		default:
			return 0
		}
	})

	for pos < len(b.entries) && b.entries[pos].hash == hash {
		switch {
		case b.entries[pos].key == key:
			return pos, true
		case b.entries[pos].key > key:
			return pos, false
		}
		pos++
	}
	return pos, false
}

// --------------------------------------------------------------------------
// HashMap
// --------------------------------------------------------------------------

// HashMap is a concurrently readable unordered map with string keys. All
// access goes through read and write transactions; construct with New.
type HashMap[V any] struct {
	cell *txn.Cell[*table[V]]
	seed uint64
	mask uint64
}

// New creates a HashMap with the specified options (optional). Invalid
// capacity bounds are rejected here, before any transaction exists.
func New[V any](opts *Options) (*HashMap[V], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Buckets < 8 || opts.Buckets&(opts.Buckets-1) != 0 {
		return nil, ErrInvalidBuckets
	}

	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.New("hashmap")
	}

	buckets := make([]*bucket[V], opts.Buckets)
	empty := &bucket[V]{}
	for i := range buckets {
		buckets[i] = empty
	}

	cell := txn.NewCell(
		&table[V]{buckets: buckets},
		cloneTable[V],
		func(t *table[V]) error { return t.validate() },
		tel,
	)

	return &HashMap[V]{
		cell: cell,
		seed: util.GenerateSeed(),
		mask: uint64(opts.Buckets - 1),
	}, nil
}

func (m *HashMap[V]) hash(key string) uint64 {
	return xxh3.HashStringSeed(key, m.seed)
}

// Generation returns the sequence number of the live version.
func (m *HashMap[V]) Generation() uint64 {
	return m.cell.Generation()
}

// ActivePins returns the number of currently open read transactions.
func (m *HashMap[V]) ActivePins() int { return m.cell.Epochs().ActivePins() }

// PendingRetired returns the number of superseded versions awaiting
// reclamation.
func (m *HashMap[V]) PendingRetired() int { return m.cell.Epochs().PendingRetired() }

// Info reports how evenly keys spread across the buckets of the current
// live version.
func (m *HashMap[V]) Info() util.DistributionStats {
	r := m.Read()
	defer r.Close()

	t := r.inner.Snapshot()
	sizes := make([]float64, len(t.buckets))
	for i, b := range t.buckets {
		sizes[i] = float64(len(b.entries))
	}
	return util.NewDistributionStats(sizes)
}

// --------------------------------------------------------------------------
// Read transactions
// --------------------------------------------------------------------------

// ReadTxn is a wait-free snapshot view of the map.
type ReadTxn[V any] struct {
	m     *HashMap[V]
	inner *txn.ReadTxn[*table[V]]
}

// Read opens a read transaction. Never blocks, never waits on a writer.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *HashMap[V]) Read() *ReadTxn[V] {
	return &ReadTxn[V]{m: m, inner: m.cell.Read()}
}

// Get returns the value stored for key in this snapshot.
func (r *ReadTxn[V]) Get(key string) (V, bool) {
	return r.m.get(r.inner.Snapshot(), key)
}

// Contains reports whether key exists in this snapshot.
func (r *ReadTxn[V]) Contains(key string) bool {
	_, ok := r.m.get(r.inner.Snapshot(), key)
	return ok
}

// Len returns the number of keys in this snapshot.
func (r *ReadTxn[V]) Len() int {
	return r.inner.Snapshot().size
}

// Range calls fn for every key-value pair in this snapshot, in unspecified
// order, until fn returns false.
func (r *ReadTxn[V]) Range(fn func(key string, val V) bool) {
	rangeTable(r.inner.Snapshot(), fn)
}

// Generation returns the sequence number of the observed version.
func (r *ReadTxn[V]) Generation() uint64 {
	return r.inner.Generation()
}

// Close releases the snapshot. Safe to call multiple times.
func (r *ReadTxn[V]) Close() {
	r.inner.Close()
}

func (m *HashMap[V]) get(t *table[V], key string) (V, bool) {
	h := m.hash(key)
	b := t.buckets[h&m.mask]

	if i, found := b.find(h, key); found {
		return b.entries[i].val, true
	}
	var zero V
	return zero, false
}

func rangeTable[V any](t *table[V], fn func(key string, val V) bool) {
	for _, b := range t.buckets {
		for i := range b.entries {
			if !fn(b.entries[i].key, b.entries[i].val) {
				return
			}
		}
	}
}

// --------------------------------------------------------------------------
// Write transactions
// --------------------------------------------------------------------------

// WriteTxn holds exclusive mutation rights over a working copy of the map.
//
// Thread-safety: a WriteTxn is owned by one goroutine.
type WriteTxn[V any] struct {
	m     *HashMap[V]
	inner *txn.WriteTxn[*table[V]]
}

// Write acquires the write transaction, blocking until the previous writer
// commits or aborts.
func (m *HashMap[V]) Write() *WriteTxn[V] {
	return &WriteTxn[V]{m: m, inner: m.cell.Write()}
}

// TryWrite acquires the write transaction under a timeout policy. Returns
// txn.ErrContended on expiry.
func (m *HashMap[V]) TryWrite(timeout time.Duration) (*WriteTxn[V], error) {
	inner, err := m.cell.TryWrite(timeout)
	if err != nil {
		return nil, err
	}
	return &WriteTxn[V]{m: m, inner: inner}, nil
}

// Get returns the value for key as seen by this transaction, including its
// own uncommitted writes.
func (w *WriteTxn[V]) Get(key string) (V, bool) {
	return w.m.get(w.inner.Working(), key)
}

// Contains reports whether key exists in the working copy.
func (w *WriteTxn[V]) Contains(key string) bool {
	_, ok := w.m.get(w.inner.Working(), key)
	return ok
}

// Len returns the number of keys in the working copy.
func (w *WriteTxn[V]) Len() int {
	return w.inner.Working().size
}

// Range calls fn for every key-value pair in the working copy, in
// unspecified order, until fn returns false.
func (w *WriteTxn[V]) Range(fn func(key string, val V) bool) {
	rangeTable(w.inner.Working(), fn)
}

// mutableBucket clones the addressed bucket unless this transaction
// already owns it.
func (w *WriteTxn[V]) mutableBucket(h uint64) *bucket[V] {
	t := w.inner.Working()
	idx := h & w.m.mask
	b := t.buckets[idx]

	if b.txid != w.inner.ID() {
		b = &bucket[V]{txid: w.inner.ID(), entries: slices.Clone(b.entries)}
		t.buckets[idx] = b
	}
	return b
}

// Insert puts key/value into the working copy, cloning the touched bucket.
// Returns the previous value if the key already existed.
func (w *WriteTxn[V]) Insert(key string, val V) (V, bool) {
	h := w.m.hash(key)
	b := w.mutableBucket(h)

	i, found := b.find(h, key)
	if found {
		prev := b.entries[i].val
		b.entries[i].val = val
		return prev, true
	}

	b.entries = slices.Insert(b.entries, i, entry[V]{hash: h, key: key, val: val})
	w.inner.Working().size++
	var zero V
	return zero, false
}

// Remove deletes key from the working copy. Returns the removed value if
// the key existed.
func (w *WriteTxn[V]) Remove(key string) (V, bool) {
	h := w.m.hash(key)

	// Look in the shared bucket first so a not-found does not clone.
	t := w.inner.Working()
	shared := t.buckets[h&w.m.mask]
	i, found := shared.find(h, key)
	if !found {
		var zero V
		return zero, false
	}

	b := w.mutableBucket(h)
	if b != shared {
		i, _ = b.find(h, key)
	}

	removed := b.entries[i].val
	b.entries = slices.Delete(b.entries, i, i+1)
	t.size--
	return removed, true
}

// Commit atomically publishes the working copy as the new live version.
func (w *WriteTxn[V]) Commit() error {
	return w.inner.Commit()
}

// Abort discards the working copy. No reader, past or future, observes any
// effect.
func (w *WriteTxn[V]) Abort() {
	w.inner.Abort()
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// validate checks bucket ordering and the size counter before publication.
func (t *table[V]) validate() error {
	counted := 0
	for _, b := range t.buckets {
		for i := 1; i < len(b.entries); i++ {
			prev, cur := b.entries[i-1], b.entries[i]
			if prev.hash > cur.hash || (prev.hash == cur.hash && prev.key >= cur.key) {
				return errors.New("bucket entries out of order")
			}
		}
		counted += len(b.entries)
	}

	if counted != t.size {
		return errors.New("size counter does not match stored entries")
	}
	return nil
}
