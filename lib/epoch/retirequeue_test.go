package epoch

import (
	"sync"
	"testing"
)

func TestRetireQueuePushPop(t *testing.T) {
	q := newRetireQueue()

	if q.len() != 0 {
		t.Errorf("Expected empty queue, got length %d", q.len())
	}
	if item := q.popIf(func(uint64) bool { return true }); item != nil {
		t.Errorf("Expected nil from empty queue, got %v", item)
	}

	for gen := uint64(1); gen <= 3; gen++ {
		q.push(&retired{gen: gen, release: func() {}})
	}
	if q.len() != 3 {
		t.Errorf("Expected length 3, got %d", q.len())
	}

	// FIFO order matches commit order, so the head is always the oldest.
	for want := uint64(1); want <= 3; want++ {
		item := q.popIf(func(uint64) bool { return true })
		if item == nil {
			t.Fatalf("Expected item with generation %d, got nil", want)
		}
		if item.gen != want {
			t.Errorf("Expected generation %d, got %d", want, item.gen)
		}
	}
}

func TestRetireQueuePopIfGuard(t *testing.T) {
	q := newRetireQueue()
	q.push(&retired{gen: 5, release: func() {}})

	// The guard rejecting the head must leave the queue untouched.
	if item := q.popIf(func(gen uint64) bool { return gen < 5 }); item != nil {
		t.Errorf("Expected guarded pop to return nil, got generation %d", item.gen)
	}
	if q.len() != 1 {
		t.Errorf("Expected length 1 after rejected pop, got %d", q.len())
	}

	if item := q.popIf(func(gen uint64) bool { return gen < 6 }); item == nil || item.gen != 5 {
		t.Errorf("Expected generation 5, got %v", item)
	}
}

func TestRetireQueueNilPush(t *testing.T) {
	q := newRetireQueue()
	q.push(nil)

	if q.len() != 0 {
		t.Errorf("Nil push must be ignored, got length %d", q.len())
	}
}

func TestRetireQueueConcurrentPush(t *testing.T) {
	q := newRetireQueue()

	const (
		numProducers     = 8
		itemsPerProducer = 1_000
	)

	var wg sync.WaitGroup
	wg.Add(numProducers)

	for p := 0; p < numProducers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				q.push(&retired{gen: 1, release: func() {}})
			}
		}()
	}

	wg.Wait()

	if q.len() != numProducers*itemsPerProducer {
		t.Errorf("Expected %d items, got %d", numProducers*itemsPerProducer, q.len())
	}

	drained := 0
	for q.popIf(func(uint64) bool { return true }) != nil {
		drained++
	}
	if drained != numProducers*itemsPerProducer {
		t.Errorf("Drained %d items, expected %d", drained, numProducers*itemsPerProducer)
	}
}
