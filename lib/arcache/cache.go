package arcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/korecekm/concread/lib/telemetry"
	"github.com/korecekm/concread/lib/txn"
)

// Construction errors.
var (
	ErrInvalidCapacity  = errors.New("capacity must be at least 1")
	ErrInvalidAdaptStep = errors.New("adapt step must be at least 1")
	ErrInvalidTarget    = errors.New("initial target must be within [0, capacity]")
)

// defaultAdaptStep is how far the target moves per ghost hit when the ghost
// ledgers are balanced.
const defaultAdaptStep = 1

// Options configures a Cache during construction.
type Options struct {
	// Capacity is the maximum number of resident entries (>= 1).
	Capacity int

	// AdaptStep scales how aggressively the target reacts to ghost hits
	// (>= 1). Zero selects the default of 1.
	AdaptStep int

	// InitialTarget is the starting recency/frequency split, in
	// [0, Capacity]. 0 starts fully frequency-biased; adaptation moves it
	// from there.
	InitialTarget int

	// Telemetry receives the cache's counters. nil creates a private
	// instance.
	Telemetry *telemetry.Telemetry
}

// DefaultOptions returns the default Cache options for the given capacity.
func DefaultOptions(capacity int) *Options {
	return &Options{
		Capacity:  capacity,
		AdaptStep: defaultAdaptStep,
	}
}

// --------------------------------------------------------------------------
// Snapshot representation
// --------------------------------------------------------------------------

// arcState is one immutable snapshot of the cache: the four ledgers, the
// entry index and the adaptive target.
type arcState[V any] struct {
	cap  int
	step int

	// p is the target size of t1, in [0, cap]. Larger p favors recency,
	// smaller p favors frequency.
	p int

	entries map[string]*ledgerEntry[V]

	t1, t2, b1, b2 ledger[V]
}

func newState[V any](capacity, step int) *arcState[V] {
	return &arcState[V]{
		cap:     capacity,
		step:    step,
		entries: make(map[string]*ledgerEntry[V]),
	}
}

// ledgerOf maps a slot tag to the state's ledger.
func (s *arcState[V]) ledgerOf(sl slot) *ledger[V] {
	switch sl {
	case slotT1:
		return &s.t1
	case slotT2:
		return &s.t2
	case slotB1:
		return &s.b1
	default:
		return &s.b2
	}
}

// cloneState deep-copies the whole policy state, preserving recency order.
// O(capacity): the ledgers hold at most 2*cap entries combined.
func cloneState[V any](s *arcState[V]) *arcState[V] {
	c := newState[V](s.cap, s.step)
	c.p = s.p

	copyLedger := func(src, dst *ledger[V]) {
		for e := src.head; e != nil; e = e.next {
			d := &ledgerEntry[V]{key: e.key, val: e.val, slot: e.slot}
			dst.pushBack(d)
			c.entries[d.key] = d
		}
	}
	copyLedger(&s.t1, &c.t1)
	copyLedger(&s.t2, &c.t2)
	copyLedger(&s.b1, &c.b1)
	copyLedger(&s.b2, &c.b2)

	return c
}

// validate checks the ARC occupancy invariants before publication.
func (s *arcState[V]) validate() error {
	counted := 0
	for _, sl := range []slot{slotT1, slotT2, slotB1, slotB2} {
		l := s.ledgerOf(sl)
		n := 0
		for e := l.head; e != nil; e = e.next {
			if e.slot != sl {
				return fmt.Errorf("entry %q tagged %v linked into %v", e.key, e.slot, sl)
			}
			if s.entries[e.key] != e {
				return fmt.Errorf("entry %q not indexed", e.key)
			}
			n++
		}
		if n != l.n {
			return fmt.Errorf("ledger %v counter %d does not match %d linked entries", sl, l.n, n)
		}
		counted += n
	}

	if counted != len(s.entries) {
		return fmt.Errorf("index holds %d keys, ledgers hold %d", len(s.entries), counted)
	}
	if s.t1.n+s.t2.n > s.cap {
		return fmt.Errorf("%d resident entries exceed capacity %d", s.t1.n+s.t2.n, s.cap)
	}
	if s.t1.n+s.b1.n > s.cap {
		return fmt.Errorf("t1+b1 holds %d entries, bound is %d", s.t1.n+s.b1.n, s.cap)
	}
	if counted > 2*s.cap {
		return fmt.Errorf("%d tracked entries exceed bound %d", counted, 2*s.cap)
	}
	if s.p < 0 || s.p > s.cap {
		return fmt.Errorf("target %d outside [0, %d]", s.p, s.cap)
	}
	return nil
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// Cache is a concurrently readable ARC cache with string keys. All access
// goes through read and write transactions; construct with New.
type Cache[V any] struct {
	cell *txn.Cell[*arcState[V]]
	tel  *telemetry.Telemetry
}

// New creates a Cache with the specified options. Invalid capacity bounds
// are rejected here, before any transaction exists.
func New[V any](opts *Options) (*Cache[V], error) {
	if opts == nil {
		return nil, ErrInvalidCapacity
	}
	if opts.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	step := opts.AdaptStep
	if step == 0 {
		step = defaultAdaptStep
	}
	if step < 1 {
		return nil, ErrInvalidAdaptStep
	}
	if opts.InitialTarget < 0 || opts.InitialTarget > opts.Capacity {
		return nil, ErrInvalidTarget
	}

	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.New("arcache")
	}

	initial := newState[V](opts.Capacity, step)
	initial.p = opts.InitialTarget

	cell := txn.NewCell(
		initial,
		cloneState[V],
		func(s *arcState[V]) error { return s.validate() },
		tel,
	)

	return &Cache[V]{cell: cell, tel: tel}, nil
}

// Capacity returns the resident entry bound.
func (c *Cache[V]) Capacity() int {
	r := c.cell.Read()
	defer r.Close()
	return r.Snapshot().cap
}

// Generation returns the sequence number of the live version.
func (c *Cache[V]) Generation() uint64 {
	return c.cell.Generation()
}

// ActivePins returns the number of currently open read transactions.
func (c *Cache[V]) ActivePins() int { return c.cell.Epochs().ActivePins() }

// PendingRetired returns the number of superseded versions awaiting
// reclamation.
func (c *Cache[V]) PendingRetired() int { return c.cell.Epochs().PendingRetired() }

// --------------------------------------------------------------------------
// Read transactions
// --------------------------------------------------------------------------

// ReadTxn is a wait-free snapshot view of the cache. Lookups through it are
// pure and never adjust recency.
type ReadTxn[V any] struct {
	c     *Cache[V]
	inner *txn.ReadTxn[*arcState[V]]
}

// Read opens a read transaction. Never blocks, never waits on a writer.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache[V]) Read() *ReadTxn[V] {
	return &ReadTxn[V]{c: c, inner: c.cell.Read()}
}

// Get returns the resident value for key in this snapshot. Ghost entries
// are not resident and report a miss.
func (r *ReadTxn[V]) Get(key string) (V, bool) {
	s := r.inner.Snapshot()
	if e, ok := s.entries[key]; ok && e.slot.resident() {
		r.c.tel.CacheHits.Inc()
		return e.val, true
	}
	r.c.tel.CacheMisses.Inc()
	var zero V
	return zero, false
}

// Contains reports whether key is resident in this snapshot, without
// touching the hit and miss counters.
func (r *ReadTxn[V]) Contains(key string) bool {
	e, ok := r.inner.Snapshot().entries[key]
	return ok && e.slot.resident()
}

// Len returns the number of resident entries in this snapshot.
func (r *ReadTxn[V]) Len() int {
	s := r.inner.Snapshot()
	return s.t1.n + s.t2.n
}

// Target returns the snapshot's adaptive target for t1.
func (r *ReadTxn[V]) Target() int {
	return r.inner.Snapshot().p
}

// Generation returns the sequence number of the observed version.
func (r *ReadTxn[V]) Generation() uint64 {
	return r.inner.Generation()
}

// Close releases the snapshot. Safe to call multiple times.
func (r *ReadTxn[V]) Close() {
	r.inner.Close()
}

// --------------------------------------------------------------------------
// Write transactions
// --------------------------------------------------------------------------

// WriteTxn holds exclusive mutation rights over a working copy of the
// cache. Lookups through it promote entries; recency changes become visible
// only on Commit.
//
// Thread-safety: a WriteTxn is owned by one goroutine.
type WriteTxn[V any] struct {
	c     *Cache[V]
	inner *txn.WriteTxn[*arcState[V]]
}

// Write acquires the write transaction, blocking until the previous writer
// commits or aborts.
func (c *Cache[V]) Write() *WriteTxn[V] {
	return &WriteTxn[V]{c: c, inner: c.cell.Write()}
}

// TryWrite acquires the write transaction under a timeout policy. Returns
// txn.ErrContended on expiry.
func (c *Cache[V]) TryWrite(timeout time.Duration) (*WriteTxn[V], error) {
	inner, err := c.cell.TryWrite(timeout)
	if err != nil {
		return nil, err
	}
	return &WriteTxn[V]{c: c, inner: inner}, nil
}

// Get returns the resident value for key and records the touch: a t1 hit
// promotes the entry to t2, a t2 hit refreshes it at the MRU end.
func (w *WriteTxn[V]) Get(key string) (V, bool) {
	s := w.inner.Working()
	e, ok := s.entries[key]
	if !ok || !e.slot.resident() {
		w.c.tel.CacheMisses.Inc()
		var zero V
		return zero, false
	}

	s.ledgerOf(e.slot).remove(e)
	e.slot = slotT2
	s.t2.pushFront(e)

	w.c.tel.CacheHits.Inc()
	return e.val, true
}

// Contains reports whether key is resident, without touching recency or the
// hit and miss counters.
func (w *WriteTxn[V]) Contains(key string) bool {
	e, ok := w.inner.Working().entries[key]
	return ok && e.slot.resident()
}

// Len returns the number of resident entries in the working copy.
func (w *WriteTxn[V]) Len() int {
	s := w.inner.Working()
	return s.t1.n + s.t2.n
}

// Target returns the working copy's adaptive target for t1.
func (w *WriteTxn[V]) Target() int {
	return w.inner.Working().p
}

// Insert puts key/value into the working copy, applying the replacement
// policy. A hit on a ghost ledger adapts the target before the entry is
// readmitted to t2.
func (w *WriteTxn[V]) Insert(key string, val V) {
	s := w.inner.Working()

	if e, ok := s.entries[key]; ok {
		switch e.slot {
		case slotT1, slotT2:
			// Resident: update in place and count as a repeated touch.
			s.ledgerOf(e.slot).remove(e)
			e.slot = slotT2
			e.val = val
			s.t2.pushFront(e)

		case slotB1:
			// Recency ghost hit: t1 was too small, grow the target.
			s.p = min(s.p+adaptDelta(s.step, s.b2.n, s.b1.n), s.cap)
			w.replace(s, false)

			s.b1.remove(e)
			e.slot = slotT2
			e.val = val
			s.t2.pushFront(e)
			w.c.tel.CacheGhostHits.Inc()

		case slotB2:
			// Frequency ghost hit: t2 was too small, shrink the target.
			s.p = max(s.p-adaptDelta(s.step, s.b1.n, s.b2.n), 0)
			w.replace(s, true)

			s.b2.remove(e)
			e.slot = slotT2
			e.val = val
			s.t2.pushFront(e)
			w.c.tel.CacheGhostHits.Inc()
		}
		return
	}

	// Entirely new key.
	switch {
	case s.t1.n+s.b1.n == s.cap:
		if s.t1.n < s.cap {
			// b1 is over its share: forget its oldest ghost, then make room.
			ghost := s.b1.popBack()
			delete(s.entries, ghost.key)
			w.replace(s, false)
		} else {
			// t1 alone fills the cache: drop its LRU entry outright.
			victim := s.t1.popBack()
			delete(s.entries, victim.key)
			w.c.tel.CacheEvictions.Inc()
		}

	case s.t1.n+s.t2.n+s.b1.n+s.b2.n >= s.cap:
		if s.t1.n+s.t2.n+s.b1.n+s.b2.n == 2*s.cap {
			ghost := s.b2.popBack()
			delete(s.entries, ghost.key)
		}
		if s.t1.n+s.t2.n == s.cap {
			w.replace(s, false)
		}
	}

	e := &ledgerEntry[V]{key: key, val: val, slot: slotT1}
	s.t1.pushFront(e)
	s.entries[key] = e
}

// adaptDelta computes how far the target moves for one ghost hit: at least
// step, scaled up when the opposing ghost ledger dominates.
func adaptDelta(step, opposing, own int) int {
	if own > 0 && opposing > own {
		return step * (opposing / own)
	}
	return step
}

// replace demotes one resident entry to its ghost ledger, freeing a
// resident slot. preferT2 breaks the tie at the target boundary after a b2
// ghost hit.
func (w *WriteTxn[V]) replace(s *arcState[V], preferT2 bool) {
	if s.t1.n+s.t2.n < s.cap {
		// A prior Remove already freed a resident slot.
		return
	}

	var victim *ledgerEntry[V]
	if s.t1.n > 0 && (s.t1.n > s.p || (preferT2 && s.t1.n == s.p)) {
		victim = s.t1.popBack()
		victim.slot = slotB1
		s.b1.pushFront(victim)
	} else if s.t2.n > 0 {
		victim = s.t2.popBack()
		victim.slot = slotB2
		s.b2.pushFront(victim)
	} else if s.t1.n > 0 {
		victim = s.t1.popBack()
		victim.slot = slotB1
		s.b1.pushFront(victim)
	} else {
		return
	}

	// Ghosts remember the key only; the value becomes collectible now.
	var zero V
	victim.val = zero
	w.c.tel.CacheEvictions.Inc()
}

// Remove deletes key from the working copy entirely, ghost ledgers
// included. Returns the removed value if the key was resident.
func (w *WriteTxn[V]) Remove(key string) (V, bool) {
	s := w.inner.Working()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	s.ledgerOf(e.slot).remove(e)
	delete(s.entries, key)

	if e.slot.resident() {
		return e.val, true
	}
	var zero V
	return zero, false
}

// Commit atomically publishes the working copy, values and recency metadata
// together, as the new live version.
func (w *WriteTxn[V]) Commit() error {
	return w.inner.Commit()
}

// Abort discards the working copy. No reader, past or future, observes any
// effect.
func (w *WriteTxn[V]) Abort() {
	w.inner.Abort()
}
