package epoch

import (
	"runtime"
	"sync/atomic"
)

// retired is one superseded version awaiting reclamation. The release
// callback drops the last reference the queue holds to the version.
type retired struct {
	gen     uint64
	release func()
}

// rqNode represents a single element in the retirement queue
type rqNode struct {
	value *retired
	next  atomic.Pointer[rqNode]
}

// retireQueue is a lock-free multi-producer queue of superseded versions.
// Implementation uses a linked list of nodes with atomic operations for
// concurrent push operations without locks.
//
// Unlike a general MPSC queue there is no consumer goroutine: the single
// consumer is whichever caller holds the Manager's reclaim try-lock, and it
// drains the head in place via popIf. Commits are totally ordered, so
// entries are pushed in non-decreasing generation order and the head is
// always the oldest retired generation.
type retireQueue struct {
	head   atomic.Pointer[rqNode]
	tail   atomic.Pointer[rqNode]
	length atomic.Int64
}

func newRetireQueue() *retireQueue {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &rqNode{}

	q := &retireQueue{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// push adds an item to the queue.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *retireQueue) push(value *retired) {
	if value == nil {
		return
	}

	newNode := &rqNode{value: value}

	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)
				return
			}
		} else {
			// help update the tail pointer if another producer has already
			// appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff to handle contention:
		  - At low contention (<10 retries): CPU spinning to avoid thread
		    scheduling overhead
		  - At higher contention: yield the processor so other goroutines
		    make progress
		*/
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// popIf removes and returns the head item if ok(head.gen) returns true.
// Returns nil if the queue is empty or the head generation is not yet
// reclaimable.
//
// Thread-safety: single consumer only. Callers must hold the Manager's
// reclaim try-lock; popIf may run concurrently with push but never with
// another popIf.
func (q *retireQueue) popIf(ok func(gen uint64) bool) *retired {
	head := q.head.Load()
	next := head.next.Load()

	if next == nil {
		return nil
	}

	value := next.value
	if !ok(value.gen) {
		return nil
	}

	// move head pointer (frees the previous sentinel)
	q.head.Store(next)
	q.length.Add(-1)

	// help the go gc - the node stays reachable as the new sentinel
	next.value = nil

	return value
}

// len returns the number of items currently queued.
func (q *retireQueue) len() int {
	return int(q.length.Load())
}
