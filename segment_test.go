package zsock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentAppendMovesOwnership(t *testing.T) {
	q := NewInboundQueue()
	s := NewSegment([]byte("abc"))

	q.Append(s)

	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Bytes())
	assert.Equal(t, 3, q.Size())
}

func TestSegmentDuplicateHasOwnCursor(t *testing.T) {
	s := CopySegment([]byte("hello"))
	d := s.Duplicate()

	d.skip(2)

	assert.Equal(t, "hello", string(s.Bytes()))
	assert.Equal(t, "llo", string(d.Bytes()))
	s.Release()
	d.Release()
}

func TestSegmentRefCount(t *testing.T) {
	s := AllocSegment(16)
	copy(s.Bytes(), "0123456789abcdef")
	d := s.Duplicate()
	require.Equal(t, int32(2), s.refs.Load())

	s.Release()
	assert.Equal(t, "0123456789abcdef", string(d.Bytes()))
	assert.Equal(t, int32(1), d.refs.Load())

	d.Release()
	assert.Nil(t, d.refs)
	assert.Equal(t, 0, d.Len())
}

func TestSegmentReleaseTwice(t *testing.T) {
	s := AllocSegment(8)
	s.Release()
	assert.NotPanics(t, s.Release)

	var nilSeg *Segment
	assert.NotPanics(t, nilSeg.Release)
	assert.Equal(t, 0, nilSeg.Len())
}

func TestSegmentSplit(t *testing.T) {
	s := NewSegment([]byte("HelloWorld"))
	head := s.split(5)

	assert.Equal(t, "Hello", string(head.Bytes()))
	assert.Equal(t, "World", string(s.Bytes()))
}

func TestSegmentConcurrentDuplicateRelease(t *testing.T) {
	const goroutines = 64
	s := AllocSegment(32)
	dups := make([]*Segment, goroutines)
	for i := range dups {
		dups[i] = s.Duplicate()
	}

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(d *Segment) {
			defer wg.Done()
			_ = d.Bytes()
			d.Release()
		}(dups[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), s.refs.Load())
	s.Release()
}

func TestSegmentHelpers(t *testing.T) {
	segs := []*Segment{NewSegment([]byte("ab")), nil, NewSegment([]byte("cde"))}

	assert.Equal(t, 5, segmentsLen(segs))
	assert.Equal(t, "abcde", string(copySegments(segs)))
}
