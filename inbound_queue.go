package zsock

import (
	"math"
	"sync"
	"sync/atomic"
)

const (
	compactMinEntries = 20
	compactMinEmpty   = 10
)

// InboundQueue owns the segments received from the socket and not yet read.
//
// Consumed entries are nilled in place and the slice is compacted once it
// holds at least compactMinEntries entries of which compactMinEmpty are nil.
// Every structural change bumps Version, which readers use to tell "no data"
// from "data arrived while I was looking".
type InboundQueue struct {
	mu      sync.Mutex
	entries []*Segment
	head    int // entries[:head] are nil
	size    int

	version atomic.Uint64

	// epoch changes whenever the front of the queue changes; the scan index
	// is only reused while it matches.
	epoch uint64
	index *scanIndex
	mark  *readMark
}

type readMark struct {
	retained []*Segment
	version  uint64
}

// NewInboundQueue returns an empty queue.
func NewInboundQueue() *InboundQueue {
	return &InboundQueue{}
}

// Size returns the number of unread bytes.
func (q *InboundQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// IsEmpty reports whether no bytes are buffered.
func (q *InboundQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Version returns the mutation counter without locking.
func (q *InboundQueue) Version() uint64 {
	return q.version.Load()
}

// Append moves segs to the tail of the queue. Nil and empty segments are
// skipped. It returns the queue size after the append.
func (q *InboundQueue) Append(segs ...*Segment) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var added bool
	for _, s := range segs {
		if s == nil {
			continue
		}
		if s.Len() == 0 {
			s.Release()
			continue
		}
		q.size += s.Len()
		q.entries = append(q.entries, s.move())
		added = true
	}
	if added {
		q.version.Add(1)
	}
	return q.size
}

// ExtractByLength removes exactly n bytes from the front. It fails with
// ErrUnderflow when fewer than n bytes are buffered.
func (q *InboundQueue) ExtractByLength(n int) ([]*Segment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n < 0 {
		return nil, newError(KindMisuse, "extract", errNegativeCount)
	}
	if n > q.size {
		return nil, newError(KindUnderflow, "extract", nil)
	}
	if n == 0 {
		return nil, nil
	}
	segs := q.take(n)
	q.changed()
	return segs, nil
}

// ExtractByDelimiter removes the bytes in front of the first occurrence of
// delim and discards the delimiter itself. maxLen caps the record length
// including the delimiter; maxLen <= 0 means no cap. It fails with
// ErrMaxSizeExceeded when no delimiter ends within maxLen bytes and with
// ErrUnderflow when more bytes are needed to decide.
//
// Repeated calls with the same delimiter only scan bytes appended since the
// previous call.
func (q *InboundQueue) ExtractByDelimiter(delim []byte, maxLen int) ([]*Segment, error) {
	if len(delim) == 0 {
		return nil, newError(KindMisuse, "extract delimiter", errEmptyDelim)
	}
	if maxLen <= 0 {
		maxLen = math.MaxInt
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.index == nil || !q.index.matches(delim, q.epoch) {
		q.index = newScanIndex(delim, q.epoch, q.head)
	}
	switch q.index.scan(q.entries, maxLen) {
	case scanCapExceeded:
		return nil, newError(KindMaxSizeExceeded, "extract delimiter", nil)
	case scanNotFound:
		return nil, newError(KindUnderflow, "extract delimiter", nil)
	}

	offset := q.index.offset
	var segs []*Segment
	if offset > 0 {
		segs = q.take(offset)
	}
	q.discard(len(delim))
	q.changed()
	return segs, nil
}

// Drain removes and returns every buffered segment.
func (q *InboundQueue) Drain() []*Segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	segs := make([]*Segment, 0, len(q.entries)-q.head)
	for _, s := range q.entries[q.head:] {
		if s == nil {
			continue
		}
		if q.mark != nil {
			q.mark.retained = append(q.mark.retained, s.Duplicate())
		}
		segs = append(segs, s)
	}
	q.clearEntries()
	q.changed()
	return segs
}

// Copy returns independent duplicates of every buffered segment. The queue
// is left untouched.
func (q *InboundQueue) Copy() []*Segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	segs := make([]*Segment, 0, len(q.entries)-q.head)
	for _, s := range q.entries[q.head:] {
		if s != nil {
			segs = append(segs, s.Duplicate())
		}
	}
	return segs
}

// Unread moves segs back to the front of the queue, preserving their order.
// It is refused while a read mark is active.
func (q *InboundQueue) Unread(segs ...*Segment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark != nil {
		return newError(KindMisuse, "unread", errMarkActive)
	}
	moved := make([]*Segment, 0, len(segs))
	for _, s := range segs {
		if s == nil {
			continue
		}
		if s.Len() == 0 {
			s.Release()
			continue
		}
		moved = append(moved, s.move())
	}
	if len(moved) == 0 {
		return nil
	}
	q.prepend(moved)
	q.changed()
	return nil
}

// MarkReadPosition starts recording extracted bytes so ResetToReadMark can
// put them back. An existing mark is replaced.
func (q *InboundQueue) MarkReadPosition() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark != nil {
		releaseSegments(q.mark.retained)
	}
	q.mark = &readMark{version: q.version.Load()}
}

// ResetToReadMark returns every byte extracted since the mark to the front
// of the queue and restores the version recorded by the mark. It reports
// false if no mark was active.
func (q *InboundQueue) ResetToReadMark() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark == nil {
		return false
	}
	m := q.mark
	q.mark = nil
	if len(m.retained) > 0 {
		q.prepend(m.retained)
	}
	q.epoch++
	q.index = nil
	q.version.Store(m.version)
	return true
}

// RemoveReadMark drops the mark and the bytes it retained.
func (q *InboundQueue) RemoveReadMark() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark != nil {
		releaseSegments(q.mark.retained)
		q.mark = nil
	}
}

// IsMarked reports whether a read mark is active.
func (q *InboundQueue) IsMarked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mark != nil
}

// Reset releases every segment and returns the queue to its initial state,
// version included.
func (q *InboundQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	releaseSegments(q.entries[q.head:])
	q.clearEntries()
	if q.mark != nil {
		releaseSegments(q.mark.retained)
		q.mark = nil
	}
	q.epoch++
	q.index = nil
	q.version.Store(0)
}

// touch bumps the version without changing content, waking readers that
// wait for a change.
func (q *InboundQueue) touch() {
	q.version.Add(1)
}

// take removes n bytes from the front, splitting the boundary segment.
// The caller has checked n <= q.size.
func (q *InboundQueue) take(n int) []*Segment {
	var segs []*Segment
	for n > 0 {
		s := q.entries[q.head]
		if s.Len() <= n {
			n -= s.Len()
			q.size -= s.Len()
			q.entries[q.head] = nil
			q.head++
		} else {
			q.size -= n
			s = s.split(n)
			n = 0
		}
		if q.mark != nil {
			q.mark.retained = append(q.mark.retained, s.Duplicate())
		}
		segs = append(segs, s)
	}
	return segs
}

// discard drops n bytes from the front. Marked queues keep them.
func (q *InboundQueue) discard(n int) {
	for _, s := range q.take(n) {
		s.Release()
	}
}

func (q *InboundQueue) prepend(segs []*Segment) {
	for _, s := range segs {
		q.size += s.Len()
	}
	if q.head >= len(segs) {
		q.head -= len(segs)
		copy(q.entries[q.head:], segs)
		return
	}
	entries := make([]*Segment, 0, len(segs)+len(q.entries)-q.head)
	entries = append(entries, segs...)
	entries = append(entries, q.entries[q.head:]...)
	q.entries, q.head = entries, 0
}

// changed records a front mutation: new version, stale scan index, and a
// chance to compact.
func (q *InboundQueue) changed() {
	q.version.Add(1)
	q.epoch++
	q.index = nil
	if q.size == 0 {
		q.clearEntries()
		return
	}
	if len(q.entries) >= compactMinEntries && q.head >= compactMinEmpty {
		n := copy(q.entries, q.entries[q.head:])
		for i := n; i < len(q.entries); i++ {
			q.entries[i] = nil
		}
		q.entries, q.head = q.entries[:n], 0
	}
}

func (q *InboundQueue) clearEntries() {
	for i := range q.entries {
		q.entries[i] = nil
	}
	q.entries, q.head, q.size = q.entries[:0], 0, 0
}
