package zsock

import "bytes"

type scanResult int8

const (
	scanNotFound scanResult = iota
	scanFound
	scanCapExceeded
)

// scanIndex is the resumable state of a delimiter search over the segments of
// an InboundQueue. It is valid as long as the front of the queue is unchanged,
// which the queue tracks with its front epoch; appends at the tail keep it
// valid so only new bytes get examined.
type scanIndex struct {
	delim []byte
	fail  []int

	match   int // length of the delimiter prefix matched so far
	scanned int // bytes examined, counted from the queue front
	found   bool
	offset  int // offset of the delimiter's first byte once found

	entry    int // entry being scanned
	entryOff int // bytes of that entry already examined

	epoch uint64
}

func newScanIndex(delim []byte, epoch uint64, entry int) *scanIndex {
	d := make([]byte, len(delim))
	copy(d, delim)
	return &scanIndex{
		delim: d,
		fail:  failureTable(d),
		entry: entry,
		epoch: epoch,
	}
}

// failureTable computes, for each prefix of d, the length of its longest proper
// prefix that is also a suffix.
func failureTable(d []byte) []int {
	f := make([]int, len(d))
	k := 0
	for i := 1; i < len(d); i++ {
		for k > 0 && d[i] != d[k] {
			k = f[k-1]
		}
		if d[i] == d[k] {
			k++
		}
		f[i] = k
	}
	return f
}

func (x *scanIndex) matches(delim []byte, epoch uint64) bool {
	return x.epoch == epoch && bytes.Equal(x.delim, delim)
}

// scan continues the search over entries, examining at most limit bytes from
// the queue front. Nil entries are skipped.
func (x *scanIndex) scan(entries []*Segment, limit int) scanResult {
	if x.found {
		if x.offset+len(x.delim) > limit {
			return scanCapExceeded
		}
		return scanFound
	}
	for ; x.entry < len(entries); x.entry, x.entryOff = x.entry+1, 0 {
		seg := entries[x.entry]
		if seg == nil {
			continue
		}
		b := seg.Bytes()[x.entryOff:]
		for i, c := range b {
			if x.scanned >= limit {
				x.entryOff += i
				return scanCapExceeded
			}
			x.scanned++
			for x.match > 0 && c != x.delim[x.match] {
				x.match = x.fail[x.match-1]
			}
			if c == x.delim[x.match] {
				x.match++
			}
			if x.match == len(x.delim) {
				x.found = true
				x.offset = x.scanned - len(x.delim)
				x.entryOff += i + 1
				return scanFound
			}
		}
	}
	if x.scanned >= limit {
		return scanCapExceeded
	}
	return scanNotFound
}
