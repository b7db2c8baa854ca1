package hashmap

import (
	"testing"
	"time"

	storetest "github.com/korecekm/concread/lib/testing"
)

// storeAdapter exposes a HashMap[[]byte] through the shared protocol
// conformance interface.
type storeAdapter struct {
	m *HashMap[[]byte]
}

func (a *storeAdapter) OpenRead() storetest.ReadView {
	return &readAdapter{r: a.m.Read()}
}

func (a *storeAdapter) OpenWrite(timeout time.Duration) (storetest.WriteView, error) {
	w, err := a.m.TryWrite(timeout)
	if err != nil {
		return nil, err
	}
	return &writeAdapter{w: w}, nil
}

type readAdapter struct {
	r *ReadTxn[[]byte]
}

func (a *readAdapter) Get(key string) ([]byte, bool) { return a.r.Get(key) }
func (a *readAdapter) Len() int                      { return a.r.Len() }
func (a *readAdapter) Close()                        { a.r.Close() }

type writeAdapter struct {
	w *WriteTxn[[]byte]
}

func (a *writeAdapter) Get(key string) ([]byte, bool) { return a.w.Get(key) }
func (a *writeAdapter) Insert(key string, value []byte) {
	a.w.Insert(key, value)
}

func (a *writeAdapter) Remove(key string) bool {
	_, ok := a.w.Remove(key)
	return ok
}

func (a *writeAdapter) Len() int      { return a.w.Len() }
func (a *writeAdapter) Commit() error { return a.w.Commit() }
func (a *writeAdapter) Abort()        { a.w.Abort() }

func newStoreAdapter(tb testing.TB) storetest.Store {
	m, err := New[[]byte](nil)
	if err != nil {
		tb.Fatalf("New failed: %v", err)
	}
	return &storeAdapter{m: m}
}

func TestStoreConformance(t *testing.T) {
	storetest.RunStoreTests(t, "hashmap", func() storetest.Store {
		return newStoreAdapter(t)
	})
}

func BenchmarkStore(b *testing.B) {
	storetest.RunStoreBenchmarks(b, "hashmap", func() storetest.Store {
		return newStoreAdapter(b)
	})
}
