package epoch

import (
	"math"
	"sync/atomic"

	"github.com/korecekm/concread/lib/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// reclaimEvery is the writer-advance cadence at which reclamation is
// attempted in addition to the attempts made on pin release.
const reclaimEvery = 8

// Manager tracks pinned generations and retired versions for one structure
// instance.
//
// The generation counter starts at 1 so that generation 0 can never be
// observed by a pin.
type Manager struct {
	gen     atomic.Uint64
	nextPin atomic.Uint64

	// pins maps pin id -> pinned generation. Entries are added on Pin and
	// removed on Release; reclamation ranges over the map to compute the
	// minimum active generation.
	pins *xsync.MapOf[uint64, uint64]

	// retired versions, pushed in commit order
	retired *retireQueue

	// reclaiming is the single-reclaimer try-lock
	reclaiming atomic.Bool

	tel *telemetry.Telemetry
}

// NewManager creates a Manager reporting to the given telemetry instance.
// Each structure instance must own its own Manager.
func NewManager(tel *telemetry.Telemetry) *Manager {
	if tel == nil {
		tel = telemetry.New("epoch")
	}

	m := &Manager{
		pins:    xsync.NewMapOf[uint64, uint64](),
		retired: newRetireQueue(),
		tel:     tel,
	}
	m.gen.Store(1)

	return m
}

// Pin records the caller as observing the current generation. The returned
// Pin must be released on every exit path; Release is idempotent.
//
// Thread-safety: This method is thread-safe, never blocks, and never waits
// on a concurrent writer.
func (m *Manager) Pin() *Pin {
	id := m.nextPin.Add(1)
	gen := m.gen.Load()
	m.pins.Store(id, gen)

	m.tel.Pins.Inc()

	return &Pin{mgr: m, id: id, gen: gen}
}

// Generation returns the current global generation.
func (m *Manager) Generation() uint64 {
	return m.gen.Load()
}

// Advance increments the global generation and returns the new value.
// Called by the transaction layer after publishing a new version. Every
// reclaimEvery-th advance also triggers an opportunistic reclamation pass.
//
// Thread-safety: This method is thread-safe and can be called concurrently,
// although the transaction layer serializes writers above it.
func (m *Manager) Advance() uint64 {
	gen := m.gen.Add(1)
	if gen%reclaimEvery == 0 {
		m.Reclaim()
	}
	return gen
}

// Retire queues a superseded version for reclamation. The release callback
// is invoked exactly once, when no pin with generation <= gen remains.
func (m *Manager) Retire(gen uint64, release func()) {
	m.retired.push(&retired{gen: gen, release: release})
}

// Reclaim releases all retired versions whose generation is older than the
// minimum currently-pinned generation. Returns the number of versions
// released. If another goroutine is already reclaiming, Reclaim returns 0
// immediately.
func (m *Manager) Reclaim() int {
	if !m.reclaiming.CompareAndSwap(false, true) {
		return 0
	}
	defer m.reclaiming.Store(false)

	minActive := m.MinActiveGeneration()

	reclaimed := 0
	for {
		item := m.retired.popIf(func(gen uint64) bool {
			return gen < minActive
		})
		if item == nil {
			break
		}
		item.release()
		reclaimed++
	}

	if reclaimed > 0 {
		m.tel.ReclaimedVersions.Add(reclaimed)
	}

	return reclaimed
}

// MinActiveGeneration returns the minimum generation across all active
// pins, or the current generation if no pin is active. A retired version
// with generation strictly below this value is provably unobservable.
func (m *Manager) MinActiveGeneration() uint64 {
	min := uint64(math.MaxUint64)
	m.pins.Range(func(_ uint64, gen uint64) bool {
		if gen < min {
			min = gen
		}
		return true
	})

	if min == math.MaxUint64 {
		return m.gen.Load()
	}
	return min
}

// ActivePins returns the number of currently held pins.
func (m *Manager) ActivePins() int {
	return m.pins.Size()
}

// PendingRetired returns the number of versions queued for reclamation.
func (m *Manager) PendingRetired() int {
	return m.retired.len()
}

// --------------------------------------------------------------------------
// Pin
// --------------------------------------------------------------------------

// Pin marks one transaction as observing a generation, preventing
// reclamation of versions at or after it.
type Pin struct {
	mgr      *Manager
	id       uint64
	gen      uint64
	released atomic.Bool
}

// Generation returns the generation this pin observes.
func (p *Pin) Generation() uint64 {
	return p.gen
}

// Release drops the pin's observation and triggers an opportunistic
// reclamation pass. Safe to call multiple times; only the first call has an
// effect.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pin) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}

	p.mgr.pins.Delete(p.id)
	p.mgr.tel.PinReleases.Inc()
	p.mgr.Reclaim()
}
