package zsock

import (
	"encoding/binary"
	"errors"
	"io"
)

// Transport is the I/O side a Stream talks to: it tells whether more input
// may still arrive, pauses and resumes input delivery, and transmits the
// outbound queue.
type Transport interface {
	IsOpen() bool
	Suspend() error
	Resume() error
	Flush() error
}

// Stream is the non-blocking typed facade over an inbound and an outbound
// queue. Reads never wait: they return data, ErrUnderflow when more bytes may
// still arrive, or ErrClosed when the source is exhausted.
type Stream struct {
	in   *InboundQueue
	out  *OutboundQueue
	t    Transport
	flow *flowController

	autoFlush    bool
	maxWriteSize int
}

var (
	_ Reader = (*Stream)(nil)
	_ Writer = (*Stream)(nil)
)

// NewStream returns a stream driven by t.
func NewStream(t Transport, opts ...Option) *Stream {
	return newStream(t, newOptions(opts...))
}

func newStream(t Transport, o *options) *Stream {
	in := NewInboundQueue()
	return &Stream{
		in:           in,
		out:          NewOutboundQueue(),
		t:            t,
		flow:         newFlowController(t, in.Size, o.readThreshold),
		autoFlush:    o.autoFlush,
		maxWriteSize: o.maxWriteSize,
	}
}

// Inbound returns the queue received bytes are appended to.
func (s *Stream) Inbound() *InboundQueue {
	return s.in
}

// Outbound returns the queue of bytes waiting to be sent.
func (s *Stream) Outbound() *OutboundQueue {
	return s.out
}

// Receive hands freshly read segments to the stream and applies
// backpressure.
func (s *Stream) Receive(segs ...*Segment) {
	s.in.Append(segs...)
	s.flow.afterAppend()
}

// Len returns the number of buffered inbound bytes.
func (s *Stream) Len() int {
	return s.in.Size()
}

// Version returns the inbound queue version.
func (s *Stream) Version() uint64 {
	return s.in.Version()
}

// Suspended reports whether input delivery is currently paused.
func (s *Stream) Suspended() bool {
	return s.flow.isSuspended()
}

// classify turns an underflow into ErrClosed when the source can deliver no
// more and nothing changed since ver was read. A version change means bytes
// raced in, so the caller should simply retry.
func (s *Stream) classify(op string, err error, ver uint64) error {
	if !errors.Is(err, ErrUnderflow) {
		return err
	}
	if s.t.IsOpen() || s.in.Version() != ver {
		return err
	}
	return newError(KindClosed, op, io.EOF)
}

func (s *Stream) extracted() {
	s.flow.afterExtract()
}

// underflowed lets a read that needs want buffered bytes lift backpressure
// that would otherwise hold input below that.
func (s *Stream) underflowed(err error, want int) error {
	if errors.Is(err, ErrUnderflow) {
		s.flow.demand(want)
	}
	return err
}

// ReadSegments extracts exactly n bytes without copying.
func (s *Stream) ReadSegments(n int) ([]*Segment, error) {
	ver := s.in.Version()
	if n == 0 && !s.t.IsOpen() && s.in.IsEmpty() {
		return nil, newError(KindClosed, "read", io.EOF)
	}
	segs, err := s.in.ExtractByLength(n)
	if err != nil {
		return nil, s.underflowed(s.classify("read", err, ver), n)
	}
	s.extracted()
	return segs, nil
}

// ReadSegmentsUntil extracts the bytes before delim without copying. The
// delimiter is consumed. maxLen bounds the record including the delimiter.
func (s *Stream) ReadSegmentsUntil(delim []byte, maxLen int) ([]*Segment, error) {
	ver := s.in.Version()
	segs, err := s.in.ExtractByDelimiter(delim, maxLen)
	if err != nil {
		return nil, s.underflowed(s.classify("read until", err, ver), s.in.Size()+1)
	}
	s.extracted()
	return segs, nil
}

// ReadBinary copies out exactly n bytes.
func (s *Stream) ReadBinary(n int) ([]byte, error) {
	segs, err := s.ReadSegments(n)
	if err != nil {
		return nil, err
	}
	p := copySegments(segs)
	releaseSegments(segs)
	return p, nil
}

// ReadBinaryUntil copies out the bytes before delim.
func (s *Stream) ReadBinaryUntil(delim []byte, maxLen int) ([]byte, error) {
	segs, err := s.ReadSegmentsUntil(delim, maxLen)
	if err != nil {
		return nil, err
	}
	p := copySegments(segs)
	releaseSegments(segs)
	return p, nil
}

func (s *Stream) ReadString(n int) (string, error) {
	p, err := s.ReadBinary(n)
	return string(p), err
}

func (s *Stream) ReadStringUntil(delim string, maxLen int) (string, error) {
	p, err := s.ReadBinaryUntil([]byte(delim), maxLen)
	return string(p), err
}

func (s *Stream) ReadByte() (byte, error) {
	p, err := s.ReadBinary(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadUint16 reads a big-endian uint16.
func (s *Stream) ReadUint16() (uint16, error) {
	p, err := s.ReadBinary(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadUint32 reads a big-endian uint32.
func (s *Stream) ReadUint32() (uint32, error) {
	p, err := s.ReadBinary(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

// ReadUint64 reads a big-endian uint64.
func (s *Stream) ReadUint64() (uint64, error) {
	p, err := s.ReadBinary(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// Read copies up to len(p) buffered bytes into p.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ver := s.in.Version()
	n := s.in.Size()
	if n == 0 {
		return 0, s.classify("read", newError(KindUnderflow, "read", nil), ver)
	}
	if n > len(p) {
		n = len(p)
	}
	segs, err := s.in.ExtractByLength(n)
	if err != nil {
		return 0, s.classify("read", err, ver)
	}
	for i, off := 0, 0; i < len(segs); i++ {
		off += copy(p[off:], segs[i].Bytes())
	}
	releaseSegments(segs)
	s.extracted()
	return n, nil
}

// Drain extracts every buffered byte without copying. It never fails: an
// empty queue yields nil.
func (s *Stream) Drain() []*Segment {
	segs := s.in.Drain()
	s.extracted()
	return segs
}

// Unread pushes segs back in front of the buffered bytes.
func (s *Stream) Unread(segs ...*Segment) error {
	if err := s.in.Unread(segs...); err != nil {
		return err
	}
	s.flow.afterAppend()
	return nil
}

func (s *Stream) MarkReadPosition() {
	s.in.MarkReadPosition()
}

func (s *Stream) ResetToReadMark() bool {
	ok := s.in.ResetToReadMark()
	if ok {
		s.flow.afterAppend()
	}
	return ok
}

func (s *Stream) RemoveReadMark() {
	s.in.RemoveReadMark()
}

// enqueue appends segs as one unit and flushes if auto-flush is on. queued
// reports whether the segments made it into the outbound queue.
func (s *Stream) enqueue(op string, segs []*Segment, cb WriteCallback) (queued bool, err error) {
	if !s.t.IsOpen() {
		return false, newError(KindClosed, op, errConnClosed)
	}
	if err = s.out.AppendAll(segs, cb, s.maxWriteSize); err != nil {
		return false, err
	}
	if s.autoFlush {
		return true, s.t.Flush()
	}
	return true, nil
}

func (s *Stream) writeCopy(op string, p []byte, cb WriteCallback) (bool, error) {
	seg := CopySegment(p)
	queued, err := s.enqueue(op, []*Segment{seg}, cb)
	if !queued {
		seg.Release()
	}
	return queued, err
}

// Write copies p into the outbound queue.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	queued, err := s.writeCopy("write", p, nil)
	if !queued {
		return 0, err
	}
	return len(p), err
}

func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

func (s *Stream) WriteByte(b byte) error {
	_, err := s.writeCopy("write", []byte{b}, nil)
	return err
}

// WriteUint16 writes v big-endian.
func (s *Stream) WriteUint16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := s.writeCopy("write", b[:], nil)
	return err
}

// WriteUint32 writes v big-endian.
func (s *Stream) WriteUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := s.writeCopy("write", b[:], nil)
	return err
}

// WriteUint64 writes v big-endian.
func (s *Stream) WriteUint64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := s.writeCopy("write", b[:], nil)
	return err
}

// WriteSegments queues segs without copying. On success the segments belong
// to the stream and the caller's handles are emptied.
func (s *Stream) WriteSegments(segs ...*Segment) error {
	_, err := s.enqueue("write", segs, nil)
	return err
}

// WriteWithCallback copies p into the outbound queue; cb learns when it is
// on the wire or has failed.
func (s *Stream) WriteWithCallback(p []byte, cb WriteCallback) error {
	_, err := s.writeCopy("write", p, cb)
	return err
}

func (s *Stream) MarkWritePosition() {
	s.out.MarkWritePosition()
}

func (s *Stream) ResetToWriteMark() bool {
	return s.out.ResetToWriteMark()
}

func (s *Stream) RemoveWriteMark() {
	s.out.RemoveWriteMark()
}

// Flush asks the transport to send the outbound queue.
func (s *Stream) Flush() error {
	return s.t.Flush()
}

// Pending returns the number of bytes waiting to be sent.
func (s *Stream) Pending() int {
	return s.out.Size()
}

// Reset returns both queues and the flow control state to their initial
// state, for reuse of a pooled connection.
func (s *Stream) Reset() {
	s.in.Reset()
	s.out.Reset()
	s.flow.reset()
}
