package txn

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/korecekm/concread/lib/epoch"
	"github.com/korecekm/concread/lib/telemetry"
)

// Transaction layer errors.
var (
	// ErrContended is returned by TryWrite when the write transaction could
	// not be acquired within the configured timeout. Recoverable: the
	// caller may retry or back off.
	ErrContended = errors.New("write transaction acquisition timed out")

	// ErrTxnFinished is returned when Commit is called on a transaction
	// that was already committed or aborted.
	ErrTxnFinished = errors.New("transaction already committed or aborted")
)

// version is one immutable snapshot of the structure, identified by a
// monotonically increasing sequence number (the epoch generation at which
// it was published).
type version[T any] struct {
	seq  uint64
	data T
}

// Cell manages the live version of one structure instance and issues read
// and write transactions over it.
//
// The live-version pointer is the single piece of truly shared mutable
// state; it is modified only by the atomic commit swap. Everything
// reachable from a published version is logically immutable.
type Cell[T any] struct {
	live atomic.Pointer[version[T]]

	// writeSem is a capacity-1 semaphore serializing writers. Holding the
	// token grants exclusive mutation rights.
	writeSem chan struct{}

	epochs *epoch.Manager

	// clone derives a private working copy from a published snapshot
	clone func(T) T

	// validate is run against the working copy before publication; nil
	// skips validation. A non-nil error is treated as a fatal internal
	// invariant violation.
	validate func(T) error

	nextTxnID atomic.Uint64

	tel *telemetry.Telemetry
}

// NewCell creates a Cell with the given initial snapshot. clone must return
// a working copy whose mutation never affects its source; validate may be
// nil.
func NewCell[T any](initial T, clone func(T) T, validate func(T) error, tel *telemetry.Telemetry) *Cell[T] {
	if clone == nil {
		panic("concread/txn: clone function is required")
	}
	if tel == nil {
		tel = telemetry.New("cell")
	}

	c := &Cell[T]{
		writeSem: make(chan struct{}, 1),
		epochs:   epoch.NewManager(tel),
		clone:    clone,
		validate: validate,
		tel:      tel,
	}
	c.live.Store(&version[T]{seq: c.epochs.Generation(), data: initial})
	c.writeSem <- struct{}{}

	return c
}

// Epochs exposes the cell's epoch manager for instrumentation sampling.
func (c *Cell[T]) Epochs() *epoch.Manager {
	return c.epochs
}

// Generation returns the sequence number of the current live version.
func (c *Cell[T]) Generation() uint64 {
	return c.live.Load().seq
}

// --------------------------------------------------------------------------
// Read transactions
// --------------------------------------------------------------------------

// ReadTxn is a wait-free snapshot view of the structure. It wraps an epoch
// pin plus a reference to one immutable version.
type ReadTxn[T any] struct {
	pin    *epoch.Pin
	ver    *version[T]
	closed atomic.Bool
}

// Read opens a read transaction against the current live version. Creation
// always succeeds immediately and never waits on a writer.
//
// Thread-safety: This method is thread-safe; any number of read
// transactions may coexist.
func (c *Cell[T]) Read() *ReadTxn[T] {
	// Pin before loading the live pointer: any version observable through
	// the loaded pointer is then protected from reclamation.
	pin := c.epochs.Pin()
	ver := c.live.Load()

	return &ReadTxn[T]{pin: pin, ver: ver}
}

// Snapshot returns the immutable snapshot this transaction observes. The
// snapshot stays valid until Close.
func (r *ReadTxn[T]) Snapshot() T {
	return r.ver.data
}

// Generation returns the sequence number of the observed version.
func (r *ReadTxn[T]) Generation() uint64 {
	return r.ver.seq
}

// Close releases the transaction's pin. Safe to call multiple times.
func (r *ReadTxn[T]) Close() {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.ver = nil
	r.pin.Release()
}

// --------------------------------------------------------------------------
// Write transactions
// --------------------------------------------------------------------------

// WriteTxn holds exclusive mutation rights over a working copy derived from
// the live version at acquisition time. It is terminated by exactly one of
// Commit or Abort; all mutation is only valid in between.
//
// Thread-safety: a WriteTxn is owned by one goroutine; its methods are not
// safe for concurrent use (readers run concurrently through ReadTxn).
type WriteTxn[T any] struct {
	cell *Cell[T]
	work T
	id   uint64
	done bool
}

// Write acquires the write transaction, blocking until the previous writer
// commits or aborts.
func (c *Cell[T]) Write() *WriteTxn[T] {
	<-c.writeSem
	return c.newWriteTxn()
}

// TryWrite acquires the write transaction, waiting at most timeout. On
// expiry it returns ErrContended and no mutation has taken place. A
// timeout <= 0 degenerates to a single non-blocking attempt.
func (c *Cell[T]) TryWrite(timeout time.Duration) (*WriteTxn[T], error) {
	if timeout <= 0 {
		select {
		case <-c.writeSem:
			return c.newWriteTxn(), nil
		default:
			c.tel.ContentionFailures.Inc()
			return nil, ErrContended
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.writeSem:
		return c.newWriteTxn(), nil
	case <-timer.C:
		c.tel.ContentionFailures.Inc()
		return nil, ErrContended
	}
}

// newWriteTxn derives the working copy. Callers must hold the write token.
func (c *Cell[T]) newWriteTxn() *WriteTxn[T] {
	base := c.live.Load()
	return &WriteTxn[T]{
		cell: c,
		work: c.clone(base.data),
		id:   c.nextTxnID.Add(1),
	}
}

// ID returns the transaction's unique id. Engines use it to mark nodes
// created within this transaction as exclusively owned (safe to mutate in
// place rather than re-clone).
func (w *WriteTxn[T]) ID() uint64 {
	return w.id
}

// Working returns the private working copy. Mutations to it are invisible
// to all readers until Commit.
func (w *WriteTxn[T]) Working() T {
	return w.work
}

// SetWorking replaces the working copy wholesale. Used by value-typed
// engines (see package cowcell).
func (w *WriteTxn[T]) SetWorking(data T) {
	w.work = data
}

// Commit validates the working copy and publishes it as the new live
// version: a single atomic pointer swap, followed by a generation advance
// and retirement of the superseded version. Once Commit returns, every
// subsequently opened ReadTxn observes the new version; read transactions
// opened before the commit keep their snapshots unaffected.
//
// A validation failure panics: publishing a structurally corrupted version
// would poison every future transaction, so the operation halts instead.
func (w *WriteTxn[T]) Commit() error {
	if w.done {
		return ErrTxnFinished
	}

	if v := w.cell.validate; v != nil {
		if err := v(w.work); err != nil {
			w.finish()
			panic(fmt.Sprintf("concread/txn: commit validation failed: %v", err))
		}
	}

	old := w.cell.live.Load()
	next := &version[T]{seq: old.seq + 1, data: w.work}

	w.cell.live.Store(next)
	w.cell.epochs.Advance()
	w.cell.epochs.Retire(old.seq, func() {
		// Drop the queue's reference so the superseded snapshot (and every
		// node it exclusively owns) becomes collectible.
		var zero T
		old.data = zero
	})

	w.cell.tel.Commits.Inc()
	w.finish()

	return nil
}

// Abort discards the working copy without touching the live version or the
// generation counter. Always safe; no reader, past or future, observes any
// effect. Calling Abort after Commit or a second time is a no-op.
func (w *WriteTxn[T]) Abort() {
	if w.done {
		return
	}
	w.cell.tel.Aborts.Inc()
	w.finish()
}

// finish releases the write token exactly once.
func (w *WriteTxn[T]) finish() {
	w.done = true
	var zero T
	w.work = zero
	w.cell.writeSem <- struct{}{}
}
