package testing

import (
	"fmt"
	"testing"
	"time"
)

// RunStoreBenchmarks runs all benchmarks for an engine behind the Store
// adapter.
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name+"/Insert", func(b *testing.B) {
		benchmarkInsert(b, factory())
	})

	b.Run(name+"/InsertBatched", func(b *testing.B) {
		benchmarkInsertBatched(b, factory())
	})

	b.Run(name+"/Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run(name+"/GetParallel", func(b *testing.B) {
		benchmarkGetParallel(b, factory())
	})

	b.Run(name+"/SnapshotOpenClose", func(b *testing.B) {
		benchmarkSnapshotOpenClose(b, factory())
	})

	b.Run(name+"/MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// prepare commits numKeys sequentially numbered keys.
func prepare(b *testing.B, store Store, numKeys int) {
	b.Helper()

	w, err := store.OpenWrite(5 * time.Second)
	if err != nil {
		b.Fatalf("Failed to acquire write transaction: %v", err)
	}
	for i := 0; i < numKeys; i++ {
		w.Insert(fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)))
	}
	if err := w.Commit(); err != nil {
		b.Fatalf("Commit failed: %v", err)
	}
}

// Benchmark for one committed transaction per insert (worst case: full
// clone and publish cost on every key)
func benchmarkInsert(b *testing.B, store Store) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w, err := store.OpenWrite(5 * time.Second)
		if err != nil {
			b.Fatalf("Failed to acquire write transaction: %v", err)
		}
		w.Insert(fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)))
		if err := w.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

// Benchmark for inserts amortized over batches of 100 per commit
func benchmarkInsertBatched(b *testing.B, store Store) {
	const batch = 100

	b.ResetTimer()
	for i := 0; i < b.N; i += batch {
		w, err := store.OpenWrite(5 * time.Second)
		if err != nil {
			b.Fatalf("Failed to acquire write transaction: %v", err)
		}
		for j := i; j < i+batch && j < b.N; j++ {
			w.Insert(fmt.Sprintf("test-key-%d", j), []byte(fmt.Sprintf("test-value-%d", j)))
		}
		if err := w.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

// Benchmark for Get through one long-lived snapshot
func benchmarkGet(b *testing.B, store Store) {
	numKeys := 10_000
	prepare(b, store, numKeys)

	r := store.OpenRead()
	b.Cleanup(r.Close)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Get(fmt.Sprintf("test-key-%d", i%numKeys))
	}
}

// Parallel benchmarking for Get, one snapshot per goroutine
func benchmarkGetParallel(b *testing.B, store Store) {
	numKeys := 10_000
	prepare(b, store, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := store.OpenRead()
		defer r.Close()

		counter := 0
		for pb.Next() {
			r.Get(fmt.Sprintf("test-key-%d", counter%numKeys))
			counter++
		}
	})
}

// Benchmark for the pin/unpin cost of opening and closing snapshots
func benchmarkSnapshotOpenClose(b *testing.B, store Store) {
	prepare(b, store, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r := store.OpenRead()
			r.Close()
		}
	})
}

// Benchmark for mixed usage: one writer committing batches while parallel
// readers scan their snapshots
func benchmarkMixedUsage(b *testing.B, store Store) {
	numKeys := 1_000
	prepare(b, store, numKeys)

	stop := make(chan struct{})
	go func() {
		counter := 0
		for {
			select {
			case <-stop:
				return
			default:
			}

			w, err := store.OpenWrite(5 * time.Second)
			if err != nil {
				return
			}
			for j := 0; j < 10; j++ {
				w.Insert(fmt.Sprintf("test-key-%d", counter%numKeys), []byte(fmt.Sprintf("updated-%d", counter)))
				counter++
			}
			if w.Commit() != nil {
				return
			}
		}
	}()
	b.Cleanup(func() { close(stop) })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			r := store.OpenRead()
			r.Get(fmt.Sprintf("test-key-%d", counter%numKeys))
			counter++
			r.Close()
		}
	})
}
