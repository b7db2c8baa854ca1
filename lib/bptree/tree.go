package bptree

import (
	"cmp"
	"errors"
	"time"

	"github.com/korecekm/concread/lib/telemetry"
	"github.com/korecekm/concread/lib/txn"
)

// Construction errors.
var (
	ErrInvalidFanout = errors.New("fanout must be at least 4")
)

// defaultFanout is the node capacity used when no option is given.
const defaultFanout = 16

// Options configures a Map during construction.
type Options struct {
	// Fanout is the maximum number of keys per node (>= 4).
	Fanout int

	// Telemetry receives the map's counters. nil creates a private
	// instance.
	Telemetry *telemetry.Telemetry
}

// DefaultOptions returns the default Map options.
func DefaultOptions() *Options {
	return &Options{
		Fanout: defaultFanout,
	}
}

// Map is a concurrently readable ordered map. All access goes through read
// and write transactions; the zero value is not usable, construct with New.
type Map[K cmp.Ordered, V any] struct {
	cell *txn.Cell[*tree[K, V]]
}

// New creates a Map with the specified options (optional). Invalid
// capacity bounds are rejected here, before any transaction exists.
func New[K cmp.Ordered, V any](opts *Options) (*Map[K, V], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Fanout < 4 {
		return nil, ErrInvalidFanout
	}

	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.New("bptree")
	}

	fanout := opts.Fanout
	cell := txn.NewCell(
		newTree[K, V](fanout),
		cloneTree[K, V],
		func(t *tree[K, V]) error { return t.validate() },
		tel,
	)

	return &Map[K, V]{cell: cell}, nil
}

// Generation returns the sequence number of the live version.
func (m *Map[K, V]) Generation() uint64 {
	return m.cell.Generation()
}

// ActivePins returns the number of currently open read transactions.
func (m *Map[K, V]) ActivePins() int { return m.cell.Epochs().ActivePins() }

// PendingRetired returns the number of superseded versions awaiting
// reclamation.
func (m *Map[K, V]) PendingRetired() int { return m.cell.Epochs().PendingRetired() }

// --------------------------------------------------------------------------
// Read transactions
// --------------------------------------------------------------------------

// ReadTxn is a wait-free snapshot view of the map.
type ReadTxn[K cmp.Ordered, V any] struct {
	inner *txn.ReadTxn[*tree[K, V]]
}

// Read opens a read transaction. Never blocks, never waits on a writer.
// The returned transaction must be closed; Close is idempotent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Map[K, V]) Read() *ReadTxn[K, V] {
	return &ReadTxn[K, V]{inner: m.cell.Read()}
}

// Get returns the value stored for k in this snapshot. The boolean
// indicates whether the key was found; absence is an ordinary outcome, not
// an error.
func (r *ReadTxn[K, V]) Get(k K) (V, bool) {
	return r.inner.Snapshot().get(k)
}

// Contains reports whether k exists in this snapshot.
func (r *ReadTxn[K, V]) Contains(k K) bool {
	_, ok := r.inner.Snapshot().get(k)
	return ok
}

// Len returns the number of keys in this snapshot.
func (r *ReadTxn[K, V]) Len() int {
	return r.inner.Snapshot().size
}

// First returns the minimum key and its value.
func (r *ReadTxn[K, V]) First() (K, V, bool) {
	return r.inner.Snapshot().first()
}

// Last returns the maximum key and its value.
func (r *ReadTxn[K, V]) Last() (K, V, bool) {
	return r.inner.Snapshot().last()
}

// Iter returns a lazy ascending iterator over the whole snapshot.
func (r *ReadTxn[K, V]) Iter() *Iterator[K, V] {
	return newIterator(r.inner.Snapshot(), nil, nil)
}

// IterRange returns a lazy ascending iterator over [from, to).
func (r *ReadTxn[K, V]) IterRange(from, to K) *Iterator[K, V] {
	return newIterator(r.inner.Snapshot(), &from, &to)
}

// Generation returns the sequence number of the observed version.
func (r *ReadTxn[K, V]) Generation() uint64 {
	return r.inner.Generation()
}

// Close releases the snapshot. Safe to call multiple times.
func (r *ReadTxn[K, V]) Close() {
	r.inner.Close()
}

// --------------------------------------------------------------------------
// Write transactions
// --------------------------------------------------------------------------

// WriteTxn holds exclusive mutation rights over a working copy of the map.
// Mutations are invisible to readers until Commit.
//
// Thread-safety: a WriteTxn is owned by one goroutine.
type WriteTxn[K cmp.Ordered, V any] struct {
	inner *txn.WriteTxn[*tree[K, V]]
	wr    writer[K, V]
}

// Write acquires the write transaction, blocking until the previous writer
// commits or aborts.
func (m *Map[K, V]) Write() *WriteTxn[K, V] {
	return m.wrap(m.cell.Write())
}

// TryWrite acquires the write transaction under a timeout policy. Returns
// txn.ErrContended on expiry.
func (m *Map[K, V]) TryWrite(timeout time.Duration) (*WriteTxn[K, V], error) {
	inner, err := m.cell.TryWrite(timeout)
	if err != nil {
		return nil, err
	}
	return m.wrap(inner), nil
}

func (m *Map[K, V]) wrap(inner *txn.WriteTxn[*tree[K, V]]) *WriteTxn[K, V] {
	return &WriteTxn[K, V]{
		inner: inner,
		wr:    writer[K, V]{txid: inner.ID(), fanout: inner.Working().fanout},
	}
}

// Get returns the value for k as seen by this transaction, including its
// own uncommitted writes.
func (w *WriteTxn[K, V]) Get(k K) (V, bool) {
	return w.inner.Working().get(k)
}

// Contains reports whether k exists in the working copy.
func (w *WriteTxn[K, V]) Contains(k K) bool {
	_, ok := w.inner.Working().get(k)
	return ok
}

// Len returns the number of keys in the working copy.
func (w *WriteTxn[K, V]) Len() int {
	return w.inner.Working().size
}

// Iter returns a lazy ascending iterator over the working copy. The
// iterator must not outlive further mutation by this transaction.
func (w *WriteTxn[K, V]) Iter() *Iterator[K, V] {
	return newIterator(w.inner.Working(), nil, nil)
}

// IterRange returns a lazy ascending iterator over [from, to) of the
// working copy.
func (w *WriteTxn[K, V]) IterRange(from, to K) *Iterator[K, V] {
	return newIterator(w.inner.Working(), &from, &to)
}

// Insert puts k/v into the working copy, cloning the root-to-leaf path.
// Returns the previous value if k already existed (last write wins within
// the transaction).
func (w *WriteTxn[K, V]) Insert(k K, v V) (V, bool) {
	return w.wr.insertRoot(w.inner.Working(), k, v)
}

// Remove deletes k from the working copy. Returns the removed value if k
// existed.
func (w *WriteTxn[K, V]) Remove(k K) (V, bool) {
	return w.wr.removeRoot(w.inner.Working(), k)
}

// Commit atomically publishes the working copy as the new live version.
func (w *WriteTxn[K, V]) Commit() error {
	return w.inner.Commit()
}

// Abort discards the working copy. No reader, past or future, observes any
// effect.
func (w *WriteTxn[K, V]) Abort() {
	w.inner.Abort()
}
