package zsock

import (
	"sync"
	"sync/atomic"
)

// WriteCallback is told how a queued segment ended. On success written holds
// exactly the bytes confirmed on the wire and is only valid during the call.
// On failure written is nil and err is set.
type WriteCallback func(written []byte, err error)

type outEntry struct {
	seg *Segment
	cb  WriteCallback
}

// OutboundQueue holds segments waiting to be sent.
//
// A Lease hands a batch from the front to a write task without removing it;
// the batch leaves the queue only on ReleaseLeased, so a failed transmit
// never loses data. Appends made while a write mark is active are parked on
// the mark until RemoveWriteMark publishes them or ResetToWriteMark drops
// them.
type OutboundQueue struct {
	mu      sync.Mutex
	entries []*outEntry
	head    int
	size    int

	leased int // number of entries from head in the outstanding lease, -1 if none

	version atomic.Uint64
	mark    *writeMark
}

type writeMark struct {
	pending []*outEntry
	size    int
	version uint64
}

// Lease is a snapshot of the front of an OutboundQueue.
type Lease struct {
	entries []*outEntry
	size    int
}

// Len returns the number of leased segments.
func (l *Lease) Len() int {
	return len(l.entries)
}

// Size returns the number of leased bytes.
func (l *Lease) Size() int {
	return l.size
}

// Segment returns the i-th leased segment. It stays owned by the queue.
func (l *Lease) Segment(i int) *Segment {
	return l.entries[i].seg
}

// NewOutboundQueue returns an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{leased: -1}
}

// Size returns the number of bytes queued for sending, leased ones included.
// Bytes parked on a write mark are not counted.
func (q *OutboundQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// IsEmpty reports whether nothing is queued for sending.
func (q *OutboundQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Version returns the mutation counter without locking.
func (q *OutboundQueue) Version() uint64 {
	return q.version.Load()
}

// Append moves seg to the tail of the queue. cb, if not nil, fires once the
// segment has been written or has failed. Empty segments complete at once.
func (q *OutboundQueue) Append(seg *Segment, cb WriteCallback) {
	if seg == nil || seg.Len() == 0 {
		seg.Release()
		if cb != nil {
			cb(nil, nil)
		}
		return
	}
	q.mu.Lock()
	q.push(&outEntry{seg: seg.move(), cb: cb})
	q.version.Add(1)
	q.mu.Unlock()
}

// AppendAll moves every segment of segs to the tail, or none of them: if
// limit > 0 and the queue would grow beyond limit bytes, ErrOverflow is
// returned and segs are left with the caller. cb, if not nil, is attached to
// each segment.
func (q *OutboundQueue) AppendAll(segs []*Segment, cb WriteCallback, limit int) error {
	n := segmentsLen(segs)
	q.mu.Lock()
	defer q.mu.Unlock()
	queued := q.size
	if q.mark != nil {
		queued += q.mark.size
	}
	if limit > 0 && queued+n > limit {
		return newError(KindOverflow, "append", nil)
	}
	var added bool
	for _, s := range segs {
		if s == nil {
			continue
		}
		if s.Len() == 0 {
			s.Release()
			continue
		}
		q.push(&outEntry{seg: s.move(), cb: cb})
		added = true
	}
	if added {
		q.version.Add(1)
	}
	return nil
}

func (q *OutboundQueue) push(e *outEntry) {
	if q.mark != nil {
		q.mark.pending = append(q.mark.pending, e)
		q.mark.size += e.seg.Len()
		return
	}
	q.entries = append(q.entries, e)
	q.size += e.seg.Len()
}

// Lease snapshots segments from the front for transmission. A segment of at
// least maxChunk bytes is leased alone; otherwise whole segments are added
// while the total stays within maxChunk. An empty queue yields an empty
// lease. Only one lease may be outstanding.
func (q *OutboundQueue) Lease(maxChunk int) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leased >= 0 {
		return nil, newError(KindMisuse, "lease", errLeaseActive)
	}
	l := &Lease{}
	for _, e := range q.entries[q.head:] {
		n := e.seg.Len()
		if len(l.entries) > 0 && l.size+n > maxChunk {
			break
		}
		l.entries = append(l.entries, e)
		l.size += n
		if l.size >= maxChunk {
			break
		}
	}
	q.leased = len(l.entries)
	return l, nil
}

// ReleaseLeased commits the outstanding lease: the leased segments leave the
// queue and their memory is released.
func (q *OutboundQueue) ReleaseLeased() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leased < 0 {
		return newError(KindMisuse, "release lease", errNoLease)
	}
	n := q.leased
	q.leased = -1
	if n == 0 {
		return nil
	}
	for i := q.head; i < q.head+n; i++ {
		e := q.entries[i]
		q.size -= e.seg.Len()
		e.seg.Release()
		q.entries[i] = nil
	}
	q.head += n
	q.compact()
	q.version.Add(1)
	return nil
}

// CancelLease ends the outstanding lease and keeps its segments queued.
func (q *OutboundQueue) CancelLease() {
	q.mu.Lock()
	q.leased = -1
	q.mu.Unlock()
}

// Drain removes and returns every queued segment. It is refused while a
// lease is outstanding.
func (q *OutboundQueue) Drain() ([]*Segment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leased >= 0 {
		return nil, newError(KindMisuse, "drain", errLeaseActive)
	}
	if q.size == 0 {
		return nil, nil
	}
	segs := make([]*Segment, 0, len(q.entries)-q.head)
	for _, e := range q.entries[q.head:] {
		segs = append(segs, e.seg)
	}
	q.clearEntries()
	q.version.Add(1)
	return segs, nil
}

// MarkWritePosition parks subsequent appends until the mark is removed or
// reset. An existing mark is kept.
func (q *OutboundQueue) MarkWritePosition() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark == nil {
		q.mark = &writeMark{version: q.version.Load()}
	}
}

// ResetToWriteMark discards everything appended since the mark and restores
// the version recorded by it. It reports false if no mark was active.
func (q *OutboundQueue) ResetToWriteMark() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark == nil {
		return false
	}
	m := q.mark
	q.mark = nil
	for _, e := range m.pending {
		e.seg.Release()
	}
	q.version.Store(m.version)
	return true
}

// RemoveWriteMark publishes the appends parked on the mark.
func (q *OutboundQueue) RemoveWriteMark() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mark == nil {
		return
	}
	m := q.mark
	q.mark = nil
	for _, e := range m.pending {
		q.entries = append(q.entries, e)
		q.size += e.seg.Len()
	}
	if len(m.pending) > 0 {
		q.version.Add(1)
	}
}

// IsMarked reports whether a write mark is active.
func (q *OutboundQueue) IsMarked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mark != nil
}

// Reset releases every segment, drops the mark and any lease, and returns
// the version to zero. Callbacks of unsent segments are not invoked.
func (q *OutboundQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries[q.head:] {
		e.seg.Release()
	}
	if q.mark != nil {
		for _, e := range q.mark.pending {
			e.seg.Release()
		}
		q.mark = nil
	}
	q.clearEntries()
	q.leased = -1
	q.version.Store(0)
}

func (q *OutboundQueue) compact() {
	if q.head == len(q.entries) {
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

func (q *OutboundQueue) clearEntries() {
	for i := range q.entries {
		q.entries[i] = nil
	}
	q.entries, q.head, q.size = q.entries[:0], 0, 0
}
