package zsock

import (
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Segment is a contiguous byte range with its own read cursor.
//
// Appending a Segment to a queue moves it: the queue takes a private copy of
// the handle and empties the caller's one, so the appender can no longer
// observe or mutate the bytes through it. Duplicate yields an independent
// cursor aliasing the same memory; pooled memory goes back to mcache when the
// last alias is released.
type Segment struct {
	buf []byte
	off int
	end int

	// refs is shared by every duplicate of a pooled segment, nil otherwise.
	refs *atomic.Int32
}

// NewSegment wraps b without copying. b belongs to the segment from now on.
func NewSegment(b []byte) *Segment {
	return &Segment{buf: b, end: len(b)}
}

// AllocSegment returns a segment of n bytes backed by pooled memory.
func AllocSegment(n int) *Segment {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &Segment{buf: mcache.Malloc(n), end: n, refs: refs}
}

// CopySegment returns a pooled segment holding a copy of b.
func CopySegment(b []byte) *Segment {
	s := AllocSegment(len(b))
	copy(s.buf, b)
	return s
}

// Len returns the number of unread bytes.
func (s *Segment) Len() int {
	if s == nil {
		return 0
	}
	return s.end - s.off
}

// Bytes returns the unread bytes. The slice aliases the segment memory.
func (s *Segment) Bytes() []byte {
	if s == nil || s.buf == nil {
		return nil
	}
	return s.buf[s.off:s.end]
}

// Duplicate returns a new cursor over the same unread bytes.
func (s *Segment) Duplicate() *Segment {
	if s.refs != nil {
		s.refs.Add(1)
	}
	return &Segment{buf: s.buf, off: s.off, end: s.end, refs: s.refs}
}

// Release drops this handle. Releasing twice is a no-op.
func (s *Segment) Release() {
	if s == nil || s.buf == nil {
		return
	}
	if s.refs != nil && s.refs.Add(-1) == 0 {
		mcache.Free(s.buf)
	}
	s.buf, s.refs = nil, nil
	s.off, s.end = 0, 0
}

// move transfers the handle into a new Segment and empties s.
func (s *Segment) move() *Segment {
	m := *s
	*s = Segment{}
	return &m
}

// split cuts the first n bytes off s into a new aliasing segment.
func (s *Segment) split(n int) *Segment {
	head := s.Duplicate()
	head.end = head.off + n
	s.off += n
	return head
}

// skip advances the cursor by n bytes.
func (s *Segment) skip(n int) {
	s.off += n
}

// truncate limits the readable range to the first n bytes after the cursor.
func (s *Segment) truncate(n int) {
	s.end = s.off + n
}

func releaseSegments(segs []*Segment) {
	for _, s := range segs {
		s.Release()
	}
}

// segmentsLen returns the total unread bytes of segs.
func segmentsLen(segs []*Segment) (n int) {
	for _, s := range segs {
		n += s.Len()
	}
	return n
}

// copySegments copies the unread bytes of segs into a new slice.
func copySegments(segs []*Segment) []byte {
	p := make([]byte, 0, segmentsLen(segs))
	for _, s := range segs {
		p = append(p, s.Bytes()...)
	}
	return p
}
