// Package testing provides standardised tests and benchmarks for the
// transactional map engines.
//
// All engines share the same access protocol (snapshot reads, a serialized
// write transaction, commit or abort), so the protocol-level guarantees can
// be verified once against a small Store interface and run against every
// engine through a thin adapter. Engine-specific behavior (key ordering,
// range scans, the replacement policy) is tested in the engine packages
// themselves.
//
// Example usage (imported under an alias to avoid clashing with the
// standard library's testing package):
//
//	import storetest "github.com/korecekm/concread/lib/testing"
//
//	// Creating a factory function for your engine
//	factory := func() storetest.Store {
//		return newTreeAdapter()
//	}
//
//	// Running the standard test suite
//	storetest.RunStoreTests(t, "bptree", factory)
//
//	// Running performance benchmarks
//	storetest.RunStoreBenchmarks(b, "bptree", factory)
package testing
