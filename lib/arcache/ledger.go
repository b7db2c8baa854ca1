package arcache

// slot identifies which ledger an entry currently lives in.
type slot uint8

const (
	slotT1 slot = iota // resident, seen once
	slotT2             // resident, seen at least twice
	slotB1             // ghost of t1
	slotB2             // ghost of t2
)

func (s slot) resident() bool { return s == slotT1 || s == slotT2 }

func (s slot) String() string {
	switch s {
	case slotT1:
		return "t1"
	case slotT2:
		return "t2"
	case slotB1:
		return "b1"
	case slotB2:
		return "b2"
	default:
		return "?"
	}
}

// ledgerEntry is one cache entry, linked into exactly one ledger. Ghost
// entries keep the key but hold the zero value.
type ledgerEntry[V any] struct {
	key  string
	val  V
	slot slot

	prev, next *ledgerEntry[V]
}

// ledger is an intrusive doubly-linked recency list. The head is the most
// recently used end, the tail the least recently used.
type ledger[V any] struct {
	head, tail *ledgerEntry[V]
	n          int
}

// pushFront links e at the MRU end.
func (l *ledger[V]) pushFront(e *ledgerEntry[V]) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
	l.n++
}

// pushBack links e at the LRU end. Used when rebuilding a clone in order.
func (l *ledger[V]) pushBack(e *ledgerEntry[V]) {
	e.next = nil
	e.prev = l.tail
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
	l.n++
}

// remove unlinks e. e must be a member of l.
func (l *ledger[V]) remove(e *ledgerEntry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.n--
}

// popBack unlinks and returns the LRU entry, or nil if the ledger is empty.
func (l *ledger[V]) popBack() *ledgerEntry[V] {
	e := l.tail
	if e != nil {
		l.remove(e)
	}
	return e
}
