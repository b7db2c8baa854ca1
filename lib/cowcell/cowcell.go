// Package cowcell provides a concurrently readable cell holding a single
// value: the simplest consumer of the concread transaction machinery.
//
// A CowCell can stand in for a RwLock-protected value wherever readers hold
// their view for a non-trivial amount of time: any number of readers
// observe a stable snapshot without blocking, while a single writer clones
// the value, mutates the clone and commits it with an atomic swap.
//
//	cell := cowcell.New(cfg, cloneConfig)
//
//	r := cell.Read()
//	defer r.Close()
//	use(r.Snapshot())
//
//	w := cell.Write()
//	next := w.Working()
//	next.Limit = 10
//	w.SetWorking(next)
//	if err := w.Commit(); err != nil { ... }
package cowcell

import (
	"time"

	"github.com/korecekm/concread/lib/telemetry"
	"github.com/korecekm/concread/lib/txn"
)

// CowCell is a transactional single-value cell.
type CowCell[T any] struct {
	cell *txn.Cell[T]
}

// New creates a CowCell with the given initial value. clone must return a
// copy whose mutation never affects its source; for plain value types the
// identity function suffices.
func New[T any](initial T, clone func(T) T, tel *telemetry.Telemetry) *CowCell[T] {
	if tel == nil {
		tel = telemetry.New("cowcell")
	}
	return &CowCell[T]{
		cell: txn.NewCell(initial, clone, nil, tel),
	}
}

// Read opens a wait-free read transaction.
func (c *CowCell[T]) Read() *txn.ReadTxn[T] {
	return c.cell.Read()
}

// Write acquires the single write transaction, blocking until the previous
// writer finishes.
func (c *CowCell[T]) Write() *txn.WriteTxn[T] {
	return c.cell.Write()
}

// TryWrite acquires the write transaction under a timeout policy. Returns
// txn.ErrContended on expiry.
func (c *CowCell[T]) TryWrite(timeout time.Duration) (*txn.WriteTxn[T], error) {
	return c.cell.TryWrite(timeout)
}

// Get is a convenience point read: it opens and closes a read transaction
// around a single snapshot load.
func (c *CowCell[T]) Get() T {
	r := c.cell.Read()
	defer r.Close()
	return r.Snapshot()
}

// Generation returns the sequence number of the live value.
func (c *CowCell[T]) Generation() uint64 {
	return c.cell.Generation()
}
