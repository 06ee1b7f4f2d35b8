package zsock

const (
	block1k = 1 * 1024
	block2k = 2 * 1024
	block4k = 4 * 1024
	block8k = 8 * 1024

	pageSize  = block8k
	mallocMax = block8k * block1k // 8M
)

// Reader is the read half of a stream. Stream implements it without
// blocking; Conn implements it by waiting for data.
type Reader interface {
	ReadSegments(n int) (segs []*Segment, err error)
	ReadSegmentsUntil(delim []byte, maxLen int) (segs []*Segment, err error)
	ReadBinary(n int) (p []byte, err error)
	ReadBinaryUntil(delim []byte, maxLen int) (p []byte, err error)
	ReadString(n int) (s string, err error)
	ReadStringUntil(delim string, maxLen int) (s string, err error)
	ReadByte() (b byte, err error)
	ReadUint16() (v uint16, err error)
	ReadUint32() (v uint32, err error)
	ReadUint64() (v uint64, err error)
	Unread(segs ...*Segment) error
	MarkReadPosition()
	ResetToReadMark() bool
	RemoveReadMark()
	Len() (length int)
}

// Writer is the write half of a stream.
type Writer interface {
	Write(p []byte) (n int, err error)
	WriteString(s string) (n int, err error)
	WriteByte(b byte) (err error)
	WriteUint16(v uint16) (err error)
	WriteUint32(v uint32) (err error)
	WriteUint64(v uint64) (err error)
	WriteSegments(segs ...*Segment) (err error)
	WriteWithCallback(p []byte, cb WriteCallback) (err error)
	MarkWritePosition()
	ResetToWriteMark() bool
	RemoveWriteMark()
	Flush() (err error)
	Pending() (length int)
}
