// Package epoch implements epoch-based reclamation for the concread
// transaction machinery.
//
// Every structure instance owns its own Manager (the generation counter and
// retirement queue are never shared between unrelated instances, keeping
// reclamation reasoning local). The Manager tracks which generations are
// still observed by in-flight read transactions and defers releasing
// superseded structure versions until no reader can observe them.
//
// # Protocol
//
// Readers call Pin() before loading the live version pointer and Release()
// when done. Writers call Advance() after publishing a new version and
// Retire() to queue the superseded version for reclamation:
//
//	pin := mgr.Pin()
//	defer pin.Release()
//	// ... read the pinned version ...
//
// A version retired at generation G is released only once the minimum
// generation across all active pins is strictly greater than G.
//
// # Amortization
//
// Reclamation is not performed synchronously per commit. It is triggered
// opportunistically on pin release and on a cadence of writer advances,
// trading bounded memory growth for avoiding reclamation storms. At most
// one goroutine reclaims at a time (try-lock); concurrent attempts return
// immediately.
//
// # Caller discipline
//
// A Pin that is never released prevents reclamation of its generation and
// all newer ones. This is a liveness hazard, not detected or auto-recovered
// by the Manager, analogous to a lock that is never dropped. Release is
// idempotent and must be deferred on every acquisition path.
package epoch
