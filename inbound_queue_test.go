package zsock

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func contentOf(q *InboundQueue) string {
	segs := q.Copy()
	defer releaseSegments(segs)
	return string(copySegments(segs))
}

func TestInboundLengthPrefixedScenario(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte{0x00, 0x00, 0x00, 0x05, 'H', 'e', 'l'}))
	q.Append(NewSegment([]byte("loWorld")))

	segs, err := q.ExtractByLength(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(copySegments(segs)))

	segs, err = q.ExtractByLength(5)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(copySegments(segs)))
	assert.Len(t, segs, 2)

	assert.Equal(t, "World", contentOf(q))
	assert.Equal(t, 5, q.Size())
}

func TestInboundAppendSkipsEmpty(t *testing.T) {
	q := NewInboundQueue()

	size := q.Append(nil, NewSegment(nil), NewSegment([]byte{}))
	assert.Equal(t, 0, size)
	assert.Equal(t, uint64(0), q.Version())

	size = q.Append(NewSegment([]byte("x")))
	assert.Equal(t, 1, size)
	assert.Equal(t, uint64(1), q.Version())
}

func TestInboundExtractByLength(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("abc")))

	_, err := q.ExtractByLength(4)
	assert.ErrorIs(t, err, ErrUnderflow)
	assert.True(t, IsRetryable(err))

	segs, err := q.ExtractByLength(0)
	assert.NoError(t, err)
	assert.Nil(t, segs)

	_, err = q.ExtractByLength(-1)
	assert.ErrorIs(t, err, ErrMisuse)

	assert.Equal(t, 3, q.Size())
}

func TestInboundExtractByDelimiter(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("GET / HTTP/1.1\r")))

	_, err := q.ExtractByDelimiter([]byte("\r\n"), 0)
	require.ErrorIs(t, err, ErrUnderflow)

	q.Append(NewSegment([]byte("\nHost: x\r\n")))
	segs, err := q.ExtractByDelimiter([]byte("\r\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1", string(copySegments(segs)))

	segs, err = q.ExtractByDelimiter([]byte("\r\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Host: x", string(copySegments(segs)))
	assert.True(t, q.IsEmpty())
}

func TestInboundExtractEmptyRecord(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("\nrest")))

	segs, err := q.ExtractByDelimiter([]byte("\n"), 0)
	require.NoError(t, err)
	assert.Empty(t, segs)
	assert.Equal(t, "rest", contentOf(q))
}

func TestInboundExtractByDelimiterCap(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("payload\n")))

	_, err := q.ExtractByDelimiter([]byte("\n"), 7)
	assert.ErrorIs(t, err, ErrMaxSizeExceeded)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 8, q.Size())

	segs, err := q.ExtractByDelimiter([]byte("\n"), 8)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(copySegments(segs)))
}

func TestInboundExtractByDelimiterMisuse(t *testing.T) {
	q := NewInboundQueue()
	_, err := q.ExtractByDelimiter(nil, 0)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestInboundDelimiterChangeDropsIndex(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("a;b,c")))

	_, err := q.ExtractByDelimiter([]byte("|"), 0)
	require.ErrorIs(t, err, ErrUnderflow)

	segs, err := q.ExtractByDelimiter([]byte(","), 0)
	require.NoError(t, err)
	assert.Equal(t, "a;b", string(copySegments(segs)))
}

func TestInboundDrainAndCopy(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("ab")), NewSegment([]byte("cd")))

	dups := q.Copy()
	assert.Equal(t, "abcd", string(copySegments(dups)))
	assert.Equal(t, 4, q.Size())
	dups[0].skip(1)
	assert.Equal(t, "abcd", contentOf(q))

	segs := q.Drain()
	assert.Equal(t, "abcd", string(copySegments(segs)))
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Drain())
}

func TestInboundUnread(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("header:body")))

	head, err := q.ExtractByLength(7)
	require.NoError(t, err)
	require.NoError(t, q.Unread(head...))
	assert.Equal(t, "header:body", contentOf(q))
}

func TestInboundMarkReset(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte{0, 0, 0, 9, 'p', 'a'}))
	before := q.Version()

	q.MarkReadPosition()
	assert.True(t, q.IsMarked())
	_, err := q.ExtractByLength(4)
	require.NoError(t, err)
	_, err = q.ExtractByLength(9)
	require.ErrorIs(t, err, ErrUnderflow)

	err = q.Unread(NewSegment([]byte("x")))
	assert.ErrorIs(t, err, ErrMisuse)

	require.True(t, q.ResetToReadMark())
	assert.Equal(t, []byte{0, 0, 0, 9, 'p', 'a'}, []byte(contentOf(q)))
	assert.Equal(t, before, q.Version())
	assert.False(t, q.IsMarked())
	assert.False(t, q.ResetToReadMark())
}

func TestInboundMarkDelimiterReset(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("one\ntwo\n")))

	q.MarkReadPosition()
	_, err := q.ExtractByDelimiter([]byte("\n"), 0)
	require.NoError(t, err)
	require.True(t, q.ResetToReadMark())

	assert.Equal(t, "one\ntwo\n", contentOf(q))
	segs, err := q.ExtractByDelimiter([]byte("\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(copySegments(segs)))
}

func TestInboundRemoveReadMark(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("abc")))

	q.MarkReadPosition()
	_, err := q.ExtractByLength(1)
	require.NoError(t, err)
	q.RemoveReadMark()

	assert.False(t, q.ResetToReadMark())
	assert.Equal(t, "bc", contentOf(q))
	assert.NoError(t, q.Unread(NewSegment([]byte("a"))))
}

func TestInboundCompaction(t *testing.T) {
	q := NewInboundQueue()
	for i := 0; i < 2*compactMinEntries; i++ {
		q.Append(NewSegment([]byte{byte(i)}))
	}
	for i := 0; i < compactMinEmpty; i++ {
		_, err := q.ExtractByLength(1)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, q.head)
	assert.Len(t, q.entries, 2*compactMinEntries-compactMinEmpty)
	segs, err := q.ExtractByLength(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{compactMinEmpty}, copySegments(segs))
}

func TestInboundReset(t *testing.T) {
	q := NewInboundQueue()
	q.Append(NewSegment([]byte("abc")))
	q.MarkReadPosition()

	q.Reset()

	assert.True(t, q.IsEmpty())
	assert.False(t, q.IsMarked())
	assert.Equal(t, uint64(0), q.Version())
}

func TestInboundConcatenation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 32), 1, 16).Draw(t, "parts")
		q := NewInboundQueue()
		var want []byte
		for _, p := range parts {
			want = append(want, p...)
			q.Append(NewSegment(append([]byte(nil), p...)))
		}

		segs, err := q.ExtractByLength(len(want))
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if got := copySegments(segs); string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
		if !q.IsEmpty() {
			t.Fatalf("queue not empty: %d", q.Size())
		}
	})
}

func TestInboundDelimiterFraming(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		delim := []byte("\r\n")
		payload := rapid.SliceOfN(rapid.SampledFrom([]byte("ab\r")), 0, 48).Draw(t, "payload")
		record := append(append([]byte(nil), payload...), delim...)
		limit := rapid.IntRange(1, len(record)+4).Draw(t, "limit")

		q := NewInboundQueue()
		for rest := record; len(rest) > 0; {
			n := rapid.IntRange(1, len(rest)).Draw(t, "split")
			q.Append(NewSegment(append([]byte(nil), rest[:n]...)))
			rest = rest[n:]
		}

		segs, err := q.ExtractByDelimiter(delim, limit)
		if limit < len(record) {
			if KindOf(err) != KindMaxSizeExceeded {
				t.Fatalf("limit %d record %d: got %v", limit, len(record), err)
			}
			return
		}
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if got := copySegments(segs); string(got) != string(payload) {
			t.Fatalf("got %q, want %q", got, payload)
		}
		if !q.IsEmpty() {
			t.Fatalf("%d bytes left", q.Size())
		}
	})
}

func TestInboundMarkResetRestores(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "data")
		q := NewInboundQueue()
		q.Append(NewSegment(append([]byte(nil), data...)))
		version := q.Version()

		q.MarkReadPosition()
		for q.Size() > 0 && rapid.Bool().Draw(t, "more") {
			n := rapid.IntRange(1, q.Size()).Draw(t, "n")
			segs, err := q.ExtractByLength(n)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			releaseSegments(segs)
		}
		q.ResetToReadMark()

		if got := contentOf(q); got != string(data) {
			t.Fatalf("got %q, want %q", got, data)
		}
		if q.Version() != version {
			t.Fatalf("version %d, want %d", q.Version(), version)
		}
	})
}
