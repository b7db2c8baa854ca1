// Package txn implements the transaction protocol shared by every concread
// engine: wait-free snapshot reads and serialized copy-on-write writes over
// a single atomically published version pointer.
//
// # Model
//
// A Cell[T] owns the live version of a structure of type T. T is the
// engine's immutable-once-published snapshot representation (a tree root, a
// bucket table, a cache state). The Cell needs two things from its engine:
// a clone function deriving a private working copy from a published
// snapshot, and an optional validate function run before every commit.
//
// Read transactions are wait-free: opening one pins the current epoch
// generation and loads the live pointer; the snapshot stays stable for the
// transaction's lifetime regardless of writer activity (snapshot isolation,
// not read-committed). Any number may coexist.
//
// Write transactions are serialized: at most one exists at a time, acquired
// either blocking (Write) or under a timeout policy (TryWrite, which fails
// with ErrContended). A write transaction mutates only its working copy.
// Commit validates the working copy, publishes it with a single atomic
// pointer swap, advances the epoch generation and retires the superseded
// version; once Commit returns, every subsequently opened read transaction
// observes the new version. Abort discards the working copy with no
// observable effect on any reader, past or future.
//
// # Failure semantics
//
// Contention (TryWrite timeout) is an ordinary, recoverable result. A
// validation failure at commit is a fatal internal-invariant violation: the
// commit panics rather than publish a corrupted version. Leaked read
// transactions are a liveness hazard for reclamation (see package epoch);
// Close is idempotent and must be deferred.
package txn
