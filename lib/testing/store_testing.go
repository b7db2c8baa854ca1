package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/korecekm/concread/lib/txn"
)

// Store is the protocol surface shared by all engines: wait-free snapshot
// reads and one serialized write transaction.
type Store interface {
	// OpenRead returns a snapshot view. Never blocks.
	OpenRead() ReadView

	// OpenWrite acquires the write transaction, waiting at most timeout.
	// Returns txn.ErrContended on expiry.
	OpenWrite(timeout time.Duration) (WriteView, error)
}

// ReadView is one immutable snapshot.
type ReadView interface {
	Get(key string) ([]byte, bool)
	Len() int
	Close()
}

// WriteView is the exclusive working copy of one write transaction.
type WriteView interface {
	Get(key string) ([]byte, bool)
	Insert(key string, value []byte)
	Remove(key string) bool
	Len() int
	Commit() error
	Abort()
}

// StoreFactory is a function that creates a fresh instance of an engine
// wrapped in the Store adapter.
type StoreFactory func() Store

// RunStoreTests runs the protocol conformance suite against an engine.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("NotFound", func(t *testing.T) {
			testNotFound(t, factory())
		})

		t.Run("LastWriteWins", func(t *testing.T) {
			testLastWriteWins(t, factory())
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory())
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory())
		})

		t.Run("WriterExclusion", func(t *testing.T) {
			testWriterExclusion(t, factory())
		})

		t.Run("CommitTwice", func(t *testing.T) {
			testCommitTwice(t, factory())
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// mustWrite acquires the write transaction or fails the test.
func mustWrite(t testing.TB, store Store) WriteView {
	t.Helper()

	w, err := store.OpenWrite(5 * time.Second)
	if err != nil {
		t.Fatalf("Failed to acquire write transaction: %v", err)
	}
	return w
}

// commitPairs inserts the given key/value pairs in one committed
// transaction.
func commitPairs(t testing.TB, store Store, pairs map[string][]byte) {
	t.Helper()

	w := mustWrite(t, store)
	for k, v := range pairs {
		w.Insert(k, v)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, store Store) {
	testKey := "test-key"
	testValue := []byte("test-value")

	commitPairs(t, store, map[string][]byte{testKey: testValue})

	r := store.OpenRead()
	defer r.Close()

	result, exists := r.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after committed Insert", testKey)
	}
	if !bytes.Equal(result, testValue) {
		t.Errorf("Expected value %s, got %s", testValue, result)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", r.Len())
	}

	// A write transaction sees its own uncommitted writes.
	w := mustWrite(t, store)
	w.Insert("pending", []byte("pending-value"))

	result, exists = w.Get("pending")
	if !exists {
		t.Errorf("Write transaction should see its own insert")
	}
	if !bytes.Equal(result, []byte("pending-value")) {
		t.Errorf("Expected pending-value, got %s", result)
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func testRemove(t *testing.T, store Store) {
	commitPairs(t, store, map[string][]byte{
		"keep":   []byte("keep-value"),
		"remove": []byte("remove-value"),
	})

	w := mustWrite(t, store)
	if !w.Remove("remove") {
		t.Errorf("Remove of an existing key should report true")
	}
	if w.Remove("remove") {
		t.Errorf("Second Remove of the same key should report false")
	}
	if w.Remove("never-existed") {
		t.Errorf("Remove of an absent key should report false")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	r := store.OpenRead()
	defer r.Close()

	if _, exists := r.Get("remove"); exists {
		t.Errorf("Removed key should be gone after commit")
	}
	if _, exists := r.Get("keep"); !exists {
		t.Errorf("Untouched key should survive the removal commit")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 remaining key, got %d", r.Len())
	}
}

func testNotFound(t *testing.T, store Store) {
	r := store.OpenRead()
	defer r.Close()

	// Absence is an ordinary boolean outcome, never a panic or error.
	value, exists := r.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}
	if value != nil {
		t.Errorf("Expected nil value for nonexistent key, got %v", value)
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty store, got %d keys", r.Len())
	}
}

func testLastWriteWins(t *testing.T, store Store) {
	testKey := "test-key"

	w := mustWrite(t, store)
	w.Insert(testKey, []byte("first"))
	w.Insert(testKey, []byte("second"))
	w.Insert(testKey, []byte("third"))

	if w.Len() != 1 {
		t.Errorf("Repeated inserts of one key should count once, got %d", w.Len())
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	r := store.OpenRead()
	defer r.Close()

	result, _ := r.Get(testKey)
	if !bytes.Equal(result, []byte("third")) {
		t.Errorf("Expected last written value, got %s", result)
	}
}

func testAbort(t *testing.T, store Store) {
	commitPairs(t, store, map[string][]byte{"stable": []byte("stable-value")})

	w := mustWrite(t, store)
	w.Insert("aborted", []byte("aborted-value"))
	w.Remove("stable")
	w.Abort()

	// Abort is idempotent.
	w.Abort()

	r := store.OpenRead()
	defer r.Close()

	if _, exists := r.Get("aborted"); exists {
		t.Errorf("Aborted insert must not be visible")
	}
	if _, exists := r.Get("stable"); !exists {
		t.Errorf("Aborted remove must not take effect")
	}

	// The write token was returned: a new writer must make progress.
	w2, err := store.OpenWrite(time.Second)
	if err != nil {
		t.Fatalf("Write transaction blocked after abort: %v", err)
	}
	w2.Abort()
}

func testSnapshotIsolation(t *testing.T, store Store) {
	testKey := "test-key"

	commitPairs(t, store, map[string][]byte{testKey: []byte("old")})

	r := store.OpenRead()
	defer r.Close()

	commitPairs(t, store, map[string][]byte{
		testKey: []byte("new"),
		"added": []byte("added-value"),
	})

	// The old snapshot is frozen at its version.
	result, _ := r.Get(testKey)
	if !bytes.Equal(result, []byte("old")) {
		t.Errorf("Snapshot observed a later commit: got %s", result)
	}
	if _, exists := r.Get("added"); exists {
		t.Errorf("Snapshot observed a key committed after it was opened")
	}

	// A fresh snapshot sees the commit.
	r2 := store.OpenRead()
	defer r2.Close()

	result, _ = r2.Get(testKey)
	if !bytes.Equal(result, []byte("new")) {
		t.Errorf("New snapshot should observe the commit, got %s", result)
	}
}

func testWriterExclusion(t *testing.T, store Store) {
	w := mustWrite(t, store)

	// While one write transaction is open, a second acquisition times out.
	if _, err := store.OpenWrite(0); !errors.Is(err, txn.ErrContended) {
		t.Errorf("Expected ErrContended from non-blocking acquisition, got %v", err)
	}
	if _, err := store.OpenWrite(20 * time.Millisecond); !errors.Is(err, txn.ErrContended) {
		t.Errorf("Expected ErrContended after timeout, got %v", err)
	}

	// Readers are never blocked by the writer.
	done := make(chan struct{})
	go func() {
		r := store.OpenRead()
		r.Get("any-key")
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Errorf("Read transaction blocked while a writer was active")
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	w2, err := store.OpenWrite(time.Second)
	if err != nil {
		t.Fatalf("Write transaction blocked after commit: %v", err)
	}
	w2.Abort()
}

func testCommitTwice(t *testing.T, store Store) {
	w := mustWrite(t, store)
	w.Insert("key", []byte("value"))

	if err := w.Commit(); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	if err := w.Commit(); !errors.Is(err, txn.ErrTxnFinished) {
		t.Errorf("Expected ErrTxnFinished from second commit, got %v", err)
	}

	// Abort after commit is a no-op.
	w.Abort()

	r := store.OpenRead()
	defer r.Close()
	if _, exists := r.Get("key"); !exists {
		t.Errorf("Committed key missing after redundant finish calls")
	}
}

func testConcurrentReaders(t *testing.T, store Store) {
	numKeys := 100
	pairs := make(map[string][]byte, numKeys)
	for i := 0; i < numKeys; i++ {
		pairs[fmt.Sprintf("key-%d", i)] = []byte(fmt.Sprintf("value-%d", i))
	}
	commitPairs(t, store, pairs)

	numReaders := 16
	var wg sync.WaitGroup
	wg.Add(numReaders)

	errCh := make(chan error, numReaders)

	for g := 0; g < numReaders; g++ {
		go func() {
			defer wg.Done()

			for round := 0; round < 50; round++ {
				r := store.OpenRead()

				for i := 0; i < numKeys; i++ {
					key := fmt.Sprintf("key-%d", i)
					value, exists := r.Get(key)
					if !exists {
						errCh <- fmt.Errorf("key %s missing", key)
						r.Close()
						return
					}
					if !bytes.Equal(value, pairs[key]) {
						errCh <- fmt.Errorf("key %s holds %s", key, value)
						r.Close()
						return
					}
				}

				r.Close()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

func testRealisticUsage(t *testing.T, store Store) {
	numKeys := 200
	numWriters := 4
	roundsPerWriter := 50

	// Writers mutate disjoint key ranges while readers continuously verify
	// that each snapshot is stable: the same key read twice within one
	// snapshot must give the same answer no matter what commits in between.
	var wg sync.WaitGroup
	stop := make(chan struct{})

	errCh := make(chan error, numWriters+8)

	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			base := writerID * (numKeys / numWriters)
			span := numKeys / numWriters

			for round := 0; round < roundsPerWriter; round++ {
				wt, err := store.OpenWrite(5 * time.Second)
				if err != nil {
					errCh <- fmt.Errorf("writer %d: %v", writerID, err)
					return
				}

				for i := 0; i < span; i++ {
					key := fmt.Sprintf("key-%d", base+i)
					if (round+i)%7 == 0 {
						wt.Remove(key)
					} else {
						wt.Insert(key, []byte(fmt.Sprintf("writer-%d-round-%d", writerID, round)))
					}
				}

				if round%10 == 9 {
					wt.Abort()
				} else if err := wt.Commit(); err != nil {
					errCh <- fmt.Errorf("writer %d commit: %v", writerID, err)
					return
				}
			}
		}(w)
	}

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				r := store.OpenRead()

				// Within one snapshot, reading the same key twice must give
				// the same answer even while writers commit concurrently.
				for i := 0; i < numKeys; i += 17 {
					key := fmt.Sprintf("key-%d", i)
					v1, ok1 := r.Get(key)
					v2, ok2 := r.Get(key)
					if ok1 != ok2 || !bytes.Equal(v1, v2) {
						errCh <- fmt.Errorf("snapshot unstable for key %s", key)
						r.Close()
						return
					}
				}

				r.Close()
			}
		}()
	}

	// Let the readers overlap the writer lifetime, then wind down.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(stop)
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
