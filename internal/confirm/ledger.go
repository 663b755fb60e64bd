package confirm

import (
	"fmt"
	"sort"

	"github.com/gammazero/deque"
)

// Ledger is the ordered record of sequence numbers that were published but not yet confirmed.
// Numbers are added in ascending order, so cumulative confirmations always remove a prefix.
//
// Ledger is not safe for concurrent use; the owner guards it together with the rest of the
// campaign state.
type Ledger struct {
	q deque.Deque[SequenceNumber]
	// last is the highest number ever added, removed or not.
	last SequenceNumber
}

// Add appends seq. It fails with ErrOutOfOrder unless seq is greater than every number
// added before, which also keeps a removed number from coming back.
func (l *Ledger) Add(seq SequenceNumber) error {
	if seq <= l.last {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, seq, l.last)
	}

	l.q.PushBack(seq)
	l.last = seq

	return nil
}

// RemoveUpTo removes every number <= tag and returns how many were removed.
func (l *Ledger) RemoveUpTo(tag SequenceNumber) int {
	var removed int
	for l.q.Len() > 0 && l.q.Front() <= tag {
		l.q.PopFront()
		removed++
	}

	return removed
}

// RemoveOne removes tag if it is outstanding. An unknown or already removed tag is ignored.
func (l *Ledger) RemoveOne(tag SequenceNumber) bool {
	if l.q.Len() > 0 && l.q.Front() == tag {
		l.q.PopFront()
		return true
	}

	i := sort.Search(l.q.Len(), func(i int) bool { return l.q.At(i) >= tag })
	if i == l.q.Len() || l.q.At(i) != tag {
		return false
	}

	l.q.Remove(i)

	return true
}

// Apply retires the numbers covered by c and returns how many were removed.
// Acks and nacks retire entries the same way.
func (l *Ledger) Apply(c Confirmation) int {
	if c.Multiple {
		return l.RemoveUpTo(c.Tag)
	}

	if l.RemoveOne(c.Tag) {
		return 1
	}

	return 0
}

func (l *Ledger) IsEmpty() bool {
	return l.q.Len() == 0
}

func (l *Ledger) Len() int {
	return l.q.Len()
}

// Snapshot copies the outstanding numbers in ascending order.
func (l *Ledger) Snapshot() []SequenceNumber {
	out := make([]SequenceNumber, l.q.Len())
	for i := range out {
		out[i] = l.q.At(i)
	}

	return out
}
