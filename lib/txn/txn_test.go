package txn

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// newIntCell builds a cell over a boxed int, the smallest structure that
// exercises clone-on-write semantics.
func newIntCell(initial int) *Cell[*int] {
	return NewCell(&initial, func(v *int) *int {
		c := *v
		return &c
	}, nil, nil)
}

func TestReadSeesLiveVersion(t *testing.T) {
	c := newIntCell(42)

	r := c.Read()
	defer r.Close()

	if got := *r.Snapshot(); got != 42 {
		t.Errorf("Expected snapshot 42, got %d", got)
	}
	if r.Generation() != c.Generation() {
		t.Errorf("Expected snapshot at live generation %d, got %d", c.Generation(), r.Generation())
	}
}

func TestCommitPublishes(t *testing.T) {
	c := newIntCell(1)
	before := c.Generation()

	w := c.Write()
	*w.Working() = 2

	// Not visible until commit.
	r := c.Read()
	if got := *r.Snapshot(); got != 1 {
		t.Errorf("Uncommitted write visible: got %d", got)
	}
	r.Close()

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if c.Generation() != before+1 {
		t.Errorf("Expected generation %d after commit, got %d", before+1, c.Generation())
	}

	r2 := c.Read()
	defer r2.Close()
	if got := *r2.Snapshot(); got != 2 {
		t.Errorf("Expected committed value 2, got %d", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := newIntCell(1)

	r := c.Read()
	defer r.Close()

	for i := 2; i <= 5; i++ {
		w := c.Write()
		*w.Working() = i
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	if got := *r.Snapshot(); got != 1 {
		t.Errorf("Snapshot drifted to %d across later commits", got)
	}
}

func TestAbortDiscards(t *testing.T) {
	c := newIntCell(1)

	w := c.Write()
	*w.Working() = 99
	w.Abort()
	w.Abort() // idempotent

	r := c.Read()
	defer r.Close()
	if got := *r.Snapshot(); got != 1 {
		t.Errorf("Aborted write visible: got %d", got)
	}

	if err := w.Commit(); !errors.Is(err, ErrTxnFinished) {
		t.Errorf("Expected ErrTxnFinished after abort, got %v", err)
	}
}

func TestCommitTwice(t *testing.T) {
	c := newIntCell(1)

	w := c.Write()
	if err := w.Commit(); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	if err := w.Commit(); !errors.Is(err, ErrTxnFinished) {
		t.Errorf("Expected ErrTxnFinished, got %v", err)
	}
}

func TestTryWriteContention(t *testing.T) {
	c := newIntCell(1)

	w := c.Write()

	if _, err := c.TryWrite(0); !errors.Is(err, ErrContended) {
		t.Errorf("Expected ErrContended from non-blocking attempt, got %v", err)
	}

	start := time.Now()
	if _, err := c.TryWrite(30 * time.Millisecond); !errors.Is(err, ErrContended) {
		t.Errorf("Expected ErrContended after timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("TryWrite returned before the timeout elapsed (%v)", elapsed)
	}

	w.Abort()

	w2, err := c.TryWrite(time.Second)
	if err != nil {
		t.Fatalf("TryWrite failed after token release: %v", err)
	}
	w2.Abort()
}

func TestWriteTxnIDsAreUnique(t *testing.T) {
	c := newIntCell(1)

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		w := c.Write()
		if seen[w.ID()] {
			t.Errorf("Transaction id %d issued twice", w.ID())
		}
		seen[w.ID()] = true
		w.Abort()
	}
}

func TestValidationFailurePanics(t *testing.T) {
	c := NewCell(1, func(v int) int { return v }, func(v int) error {
		if v < 0 {
			return errors.New("negative")
		}
		return nil
	}, nil)

	w := c.Write()
	w.SetWorking(-1)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Expected panic on validation failure")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "commit validation failed") {
			t.Errorf("Unexpected panic payload: %v", r)
		}

		// The write token was returned before panicking: the cell stays
		// usable and the live version is untouched.
		if got := c.Generation(); got != 1 {
			t.Errorf("Failed commit advanced the generation to %d", got)
		}
		w2, err := c.TryWrite(time.Second)
		if err != nil {
			t.Fatalf("Cell unusable after failed validation: %v", err)
		}
		w2.Abort()
	}()

	_ = w.Commit()
}

func TestSupersededVersionsReclaimed(t *testing.T) {
	c := newIntCell(0)

	// Commit with no readers: every superseded version becomes reclaimable
	// as soon as the periodic pass runs.
	for i := 1; i <= 64; i++ {
		w := c.Write()
		*w.Working() = i
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	c.Epochs().Reclaim()

	if pending := c.Epochs().PendingRetired(); pending != 0 {
		t.Errorf("Expected all superseded versions reclaimed, %d pending", pending)
	}
}

func TestReaderBlocksReclamationNotWriters(t *testing.T) {
	c := newIntCell(0)

	r := c.Read()

	for i := 1; i <= 8; i++ {
		w := c.Write()
		*w.Working() = i
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	// The open reader pins generation 1; nothing may be reclaimed.
	c.Epochs().Reclaim()
	if pending := c.Epochs().PendingRetired(); pending != 8 {
		t.Errorf("Expected 8 pending retirements under an open reader, got %d", pending)
	}
	if got := *r.Snapshot(); got != 0 {
		t.Errorf("Reader's snapshot mutated to %d", got)
	}

	r.Close()
	c.Epochs().Reclaim()
	if pending := c.Epochs().PendingRetired(); pending != 0 {
		t.Errorf("Expected drained retire queue after reader close, got %d", pending)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	c := newIntCell(0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

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

				r := c.Read()
				v1 := *r.Snapshot()
				v2 := *r.Snapshot()
				if v1 != v2 {
					t.Errorf("Snapshot changed under a read transaction: %d then %d", v1, v2)
					r.Close()
					return
				}
				r.Close()
			}
		}()
	}

	for i := 1; i <= 1_000; i++ {
		w := c.Write()
		*w.Working() = i
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	close(stop)
	wg.Wait()

	r := c.Read()
	defer r.Close()
	if got := *r.Snapshot(); got != 1_000 {
		t.Errorf("Expected final value 1000, got %d", got)
	}
}
