package zsock

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func segmentsOf(parts ...string) []*Segment {
	segs := make([]*Segment, len(parts))
	for i, p := range parts {
		segs[i] = NewSegment([]byte(p))
	}
	return segs
}

func TestScanFragmented(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		delim string
		want  int
	}{
		{name: "single segment", parts: []string{"HELLO\r\n"}, delim: "\r\n", want: 5},
		{name: "split before delimiter", parts: []string{"HEL", "LO\r\n"}, delim: "\r\n", want: 5},
		{name: "split inside delimiter", parts: []string{"HELLO\r", "\n"}, delim: "\r\n", want: 5},
		{name: "one byte per segment", parts: []string{"H", "E", "L", "L", "O", "\r", "\n"}, delim: "\r\n", want: 5},
		{name: "delimiter first", parts: []string{"\r\nrest"}, delim: "\r\n", want: 0},
		{name: "repeated prefix", parts: []string{"xaa", "ab"}, delim: "aab", want: 2},
		{name: "false start", parts: []string{"\r\r", "\n"}, delim: "\r\n", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newScanIndex([]byte(tt.delim), 0, 0)
			require.Equal(t, scanFound, x.scan(segmentsOf(tt.parts...), math.MaxInt))
			assert.Equal(t, tt.want, x.offset)
		})
	}
}

func TestScanResumesWithoutRescanning(t *testing.T) {
	entries := segmentsOf("HEL", "LO", "\r\n")
	x := newScanIndex([]byte("\r\n"), 0, 0)

	require.Equal(t, scanNotFound, x.scan(entries[:1], math.MaxInt))
	assert.Equal(t, 3, x.scanned)
	require.Equal(t, scanNotFound, x.scan(entries[:2], math.MaxInt))
	assert.Equal(t, 5, x.scanned)
	require.Equal(t, scanFound, x.scan(entries, math.MaxInt))
	assert.Equal(t, 7, x.scanned)
	assert.Equal(t, 5, x.offset)
}

func TestScanSkipsConsumedEntries(t *testing.T) {
	entries := []*Segment{nil, nil, NewSegment([]byte("ab|"))}
	x := newScanIndex([]byte("|"), 0, 2)

	require.Equal(t, scanFound, x.scan(entries, math.MaxInt))
	assert.Equal(t, 2, x.offset)
}

func TestScanCap(t *testing.T) {
	entries := segmentsOf("abcd", "ef\n")

	x := newScanIndex([]byte("\n"), 0, 0)
	assert.Equal(t, scanCapExceeded, x.scan(entries, 4))

	x = newScanIndex([]byte("\n"), 0, 0)
	assert.Equal(t, scanCapExceeded, x.scan(entries, 6))

	x = newScanIndex([]byte("\n"), 0, 0)
	require.Equal(t, scanFound, x.scan(entries, 7))
	assert.Equal(t, 6, x.offset)

	// a found delimiter still has to fit a tighter cap
	assert.Equal(t, scanCapExceeded, x.scan(entries, 5))
}

func TestFailureTable(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0}, failureTable([]byte("aab")))
	assert.Equal(t, []int{0, 0}, failureTable([]byte("\r\n")))
	assert.Equal(t, []int{0, 0, 1, 2}, failureTable([]byte("abab")))
}

func TestScanMatchesBytesIndex(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.SampledFrom([]byte("ab\r\n")), 0, 64).Draw(t, "data")
		delim := rapid.SliceOfN(rapid.SampledFrom([]byte("ab\r\n")), 1, 4).Draw(t, "delim")

		var entries []*Segment
		x := newScanIndex(delim, 0, 0)
		result := scanNotFound
		for rest := data; len(rest) > 0; {
			n := rapid.IntRange(1, len(rest)).Draw(t, "split")
			entries = append(entries, NewSegment(rest[:n]))
			rest = rest[n:]
			if result = x.scan(entries, math.MaxInt); result == scanFound {
				break
			}
		}

		want := bytes.Index(data, delim)
		if want < 0 {
			if result != scanNotFound {
				t.Fatalf("expected not found, got %d", result)
			}
			return
		}
		if result != scanFound || x.offset != want {
			t.Fatalf("expected offset %d, got result %d offset %d", want, result, x.offset)
		}
	})
}
