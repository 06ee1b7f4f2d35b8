package zsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// Conn is a connection served by a poller. Its reads block until enough
// bytes arrive, the peer goes away, or the read timeout expires. Stream
// returns the non-blocking view of the same buffers.
type Conn interface {
	FDConn
	Reader
	Writer

	ReadLine() (line []byte, isPrefix bool, err error)
	Stream() *Stream
	IsActive() bool
	Reusable() bool
	SetReadTimeout(timeout time.Duration) error
	SetIdleTimeout(timeout time.Duration) error
	SetOnRead(onRead OnRead)
	AddCloseCallback(callback CloseCallback) error
	LoadValue() any
	StoreValue(v any)
}

type FDConn interface {
	net.Conn
	Fd() int
}

var lf = []byte{'\n'}

type connection struct {
	netFD
	locker

	onReadCallback atomic.Value
	closeCallbacks atomic.Value

	ctx          context.Context
	operator     *FDOperator
	stream       *Stream
	scheduler    *writeScheduler
	sock         SocketWriter // the socket write tasks drain into, normally &netFD
	tasks        *TaskPool
	inputBarrier *barrier
	booked       *Segment
	bookSize     int // The size of data that can be read at once.

	flushMode    FlushMode
	flushMu      sync.Mutex
	readTimeout  time.Duration
	readTrigger  chan struct{}
	writeTrigger chan error

	// interest mirrors what is registered on the poller.
	interestMu  sync.Mutex
	readPaused  bool
	writeWanted bool
	hup         atomic.Bool

	reusable         atomic.Bool
	processedVersion atomic.Uint64

	value any
}

var _ Conn = (*connection)(nil)

func (c *connection) Stream() *Stream {
	return c.stream
}

func (c *connection) LoadValue() any {
	return c.value
}

func (c *connection) StoreValue(v any) {
	c.value = v
}

func (c *connection) IsActive() bool {
	return c.isCloseBy(none)
}

// IsOpen implements Transport.
func (c *connection) IsOpen() bool {
	return c.IsActive()
}

// Reusable reports whether the connection is healthy and idle: no write has
// failed and both queues are empty.
func (c *connection) Reusable() bool {
	return c.IsActive() && c.reusable.Load() &&
		c.stream.Len() == 0 && c.stream.Pending() == 0
}

func (c *connection) SetOnRead(onRead OnRead) {
	c.onReadCallback.Store(onRead)
}

func (c *connection) SetIdleTimeout(timeout time.Duration) error {
	if timeout > 0 {
		return c.SetKeepAlive(int(timeout.Seconds()))
	}
	return nil
}

func (c *connection) SetReadTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		c.readTimeout = timeout
	}
	return nil
}

// ------------------------------------------ blocking reader ------------------------------------------

func (c *connection) ReadSegments(n int) (segs []*Segment, err error) {
	err = c.waitRead(func() (err error) {
		segs, err = c.stream.ReadSegments(n)
		return err
	})
	return segs, err
}

func (c *connection) ReadSegmentsUntil(delim []byte, maxLen int) (segs []*Segment, err error) {
	err = c.waitRead(func() (err error) {
		segs, err = c.stream.ReadSegmentsUntil(delim, maxLen)
		return err
	})
	return segs, err
}

func (c *connection) ReadBinary(n int) (p []byte, err error) {
	err = c.waitRead(func() (err error) {
		p, err = c.stream.ReadBinary(n)
		return err
	})
	return p, err
}

func (c *connection) ReadBinaryUntil(delim []byte, maxLen int) (p []byte, err error) {
	err = c.waitRead(func() (err error) {
		p, err = c.stream.ReadBinaryUntil(delim, maxLen)
		return err
	})
	return p, err
}

func (c *connection) ReadString(n int) (s string, err error) {
	err = c.waitRead(func() (err error) {
		s, err = c.stream.ReadString(n)
		return err
	})
	return s, err
}

func (c *connection) ReadStringUntil(delim string, maxLen int) (s string, err error) {
	err = c.waitRead(func() (err error) {
		s, err = c.stream.ReadStringUntil(delim, maxLen)
		return err
	})
	return s, err
}

func (c *connection) ReadByte() (b byte, err error) {
	err = c.waitRead(func() (err error) {
		b, err = c.stream.ReadByte()
		return err
	})
	return b, err
}

func (c *connection) ReadUint16() (v uint16, err error) {
	err = c.waitRead(func() (err error) {
		v, err = c.stream.ReadUint16()
		return err
	})
	return v, err
}

func (c *connection) ReadUint32() (v uint32, err error) {
	err = c.waitRead(func() (err error) {
		v, err = c.stream.ReadUint32()
		return err
	})
	return v, err
}

func (c *connection) ReadUint64() (v uint64, err error) {
	err = c.waitRead(func() (err error) {
		v, err = c.stream.ReadUint64()
		return err
	})
	return v, err
}

// ReadLine reads up to and including '\n' and returns the line without the
// trailing "\r\n" or "\n". isPrefix is always false.
func (c *connection) ReadLine() (line []byte, isPrefix bool, err error) {
	line, err = c.ReadBinaryUntil(lf, 0)
	if err != nil {
		return nil, false, err
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, false, nil
}

func (c *connection) Unread(segs ...*Segment) error {
	return c.stream.Unread(segs...)
}

func (c *connection) MarkReadPosition() {
	c.stream.MarkReadPosition()
}

func (c *connection) ResetToReadMark() bool {
	return c.stream.ResetToReadMark()
}

func (c *connection) RemoveReadMark() {
	c.stream.RemoveReadMark()
}

func (c *connection) Len() (length int) {
	return c.stream.Len()
}

// ------------------------------------------ writer ------------------------------------------

func (c *connection) WriteString(s string) (n int, err error) {
	return c.stream.WriteString(s)
}

func (c *connection) WriteByte(b byte) (err error) {
	return c.stream.WriteByte(b)
}

func (c *connection) WriteUint16(v uint16) (err error) {
	return c.stream.WriteUint16(v)
}

func (c *connection) WriteUint32(v uint32) (err error) {
	return c.stream.WriteUint32(v)
}

func (c *connection) WriteUint64(v uint64) (err error) {
	return c.stream.WriteUint64(v)
}

func (c *connection) WriteSegments(segs ...*Segment) (err error) {
	return c.stream.WriteSegments(segs...)
}

func (c *connection) WriteWithCallback(p []byte, cb WriteCallback) (err error) {
	return c.stream.WriteWithCallback(p, cb)
}

func (c *connection) MarkWritePosition() {
	c.stream.MarkWritePosition()
}

func (c *connection) ResetToWriteMark() bool {
	return c.stream.ResetToWriteMark()
}

func (c *connection) RemoveWriteMark() {
	c.stream.RemoveWriteMark()
}

func (c *connection) Pending() (length int) {
	return c.stream.Pending()
}

// Flush sends the outbound queue. With FlushSync it returns once every
// queued byte is on the wire; with FlushAsync it makes one attempt and lets
// the poller finish.
func (c *connection) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if !c.IsActive() || !c.lock(flushing) {
		return newError(KindClosed, "flush", errConnClosed)
	}
	defer c.unlock(flushing)
	return c.flush()
}

// ------------------------------------------ implement net.Conn ------------------------------------------

// Read behavior is the same as net.Conn: it blocks until some bytes are
// buffered and returns io.EOF once the peer is gone and nothing is left.
func (c *connection) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	err = c.waitRead(func() (err error) {
		n, err = c.stream.Read(p)
		return err
	})
	if errors.Is(err, ErrClosed) {
		return n, io.EOF
	}
	return n, err
}

// Write copies p into the outbound queue and flushes when auto-flush is on.
func (c *connection) Write(p []byte) (n int, err error) {
	return c.stream.Write(p)
}

func (c *connection) Close() error {
	return c.onClose()
}

// ------------------------------------------ private ------------------------------------------

var barrierPool = sync.Pool{
	New: func() interface{} {
		return newBarrier()
	},
}

// init initialize the connection with options
func (c *connection) init(conn FDConn, o *options) (err error) {
	c.readTrigger = make(chan struct{}, 1)
	c.writeTrigger = make(chan error, 1)
	c.bookSize = block4k
	c.readTimeout = o.readTimeout
	c.flushMode = o.flushMode
	c.stream = newStream(c, o)
	c.tasks = NewTaskPool(o.writeChunk)
	c.scheduler = newWriteScheduler(c.stream.Outbound(), o.writeChunk)
	c.inputBarrier = barrierPool.Get().(*barrier)
	c.reusable.Store(true)

	c.initNetFD(conn)
	c.sock = &c.netFD
	c.initFDOperator()
	c.initFinalizer()

	if err = unix.SetNonblock(c.fd, true); err != nil {
		c.Close()
		return err
	}
	switch c.network {
	case "tcp", "tcp4", "tcp6":
		setTCPNoDelay(c.fd, true)
	}
	if o.idleTimeout > 0 {
		if err = c.SetIdleTimeout(o.idleTimeout); err != nil {
			zlog.Errorf("set keepalive on fd %d failed: %v", c.fd, err)
		}
	}
	return c.onPrepare(o)
}

func (c *connection) initNetFD(conn FDConn) {
	if nfd, ok := conn.(*netFD); ok {
		c.netFD = netFD{
			fd:         nfd.fd,
			network:    nfd.network,
			localAddr:  nfd.localAddr,
			remoteAddr: nfd.remoteAddr,
		}
		return
	}
	c.netFD = netFD{
		fd:         conn.Fd(),
		network:    conn.LocalAddr().Network(),
		localAddr:  conn.LocalAddr(),
		remoteAddr: conn.RemoteAddr(),
	}
}

func (c *connection) initFDOperator() {
	op := allocOp()
	op.FD = c.fd
	op.OnHup = c.onHup
	op.Inputs, op.InputAck = c.inputs, c.inputAck
	op.OnWrite = c.onWrite
	op.isConnection = true
	c.operator = op
}

func (c *connection) initFinalizer() {
	c.AddCloseCallback(func(Conn) error {
		c.stop(flushing)
		// stop the finalizing state to prevent conn.fill function to be performed
		c.stop(finalizing)
		freeOp(c.operator)
		c.netFD.Close()
		c.closeBuffer()
		return nil
	})
}

func (c *connection) triggerRead() {
	select {
	case c.readTrigger <- struct{}{}:
	default:
	}
}

func (c *connection) triggerWrite(err error) {
	select {
	case c.writeTrigger <- err:
	default:
	}
}

// waitRead runs attempt until it stops reporting an underflow. Between
// attempts it sleeps on the read trigger, unless the inbound version moved
// while attempt ran.
func (c *connection) waitRead(attempt func() error) (err error) {
	var timeout <-chan time.Time
	if c.readTimeout > 0 {
		timer := time.NewTimer(c.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		ver := c.stream.Version()
		if err = attempt(); err == nil || !IsRetryable(err) {
			return err
		}
		if c.stream.Version() != ver {
			continue
		}
		select {
		case <-c.readTrigger:
		case <-timeout:
			return newError(KindTimeout, "read", fmt.Errorf("no data from %v within %v", c.remoteAddr, c.readTimeout))
		}
	}
}

// fill drains the kernel receive buffer after a hangup, regardless of
// backpressure.
func (c *connection) fill() {
	if !c.lock(finalizing) {
		return
	}
	defer c.unlock(finalizing)
	for {
		n, err := readv(c.fd, c.inputs(c.inputBarrier.bs))
		if n < 0 {
			n = 0
		}
		c.inputAck(n)
		if n == 0 || err != nil {
			return
		}
	}
}

func (c *connection) onPrepare(o *options) (err error) {
	if o.onRead != nil {
		c.SetOnRead(o.onRead)
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	if c.IsActive() {
		return c.register()
	}
	return nil
}

// closeCallback .
// It can be confirmed that closeCallback and onRead will not be executed concurrently.
// If onRead is still running, it will trigger closeCallback on exit.
func (c *connection) closeCallback(needLock bool) (err error) {
	if needLock && !c.lock(processing) {
		return nil
	}
	// If Close is called during onPrepare, poll is not registered.
	if c.isCloseBy(user) && c.operator.poller != nil {
		c.operator.Control(EpollDetach)
	}
	var latest = c.closeCallbacks.Load()
	if latest == nil {
		return nil
	}
	for node := latest.(*closeCallbackNode); node != nil; node = node.pre {
		node.cb(c)
	}
	return nil
}

func (c *connection) register() (err error) {
	if c.operator.poller != nil {
		err = c.operator.Control(EpollModRead)
	} else {
		c.operator.poller = defaultPollerManager.Pick()
		err = c.operator.Control(EpollRead)
	}
	if err != nil {
		zlog.Errorf("connection register failed: %v", err)
		c.Close()
		return err
	}
	return nil
}

// CloseCallback runs once when the connection is closed, latest added first.
type CloseCallback func(conn Conn) error

type closeCallbackNode struct {
	cb  CloseCallback
	pre *closeCallbackNode
}

func (c *connection) AddCloseCallback(callback CloseCallback) error {
	if callback == nil {
		return nil
	}
	var node = &closeCallbackNode{
		cb: callback,
	}
	if pre := c.closeCallbacks.Load(); pre != nil {
		node.pre = pre.(*closeCallbackNode)
	}
	c.closeCallbacks.Store(node)
	return nil
}

// onHup means close by poller. Bytes still in the kernel are read first so
// readers can consume everything the peer sent before seeing ErrClosed.
func (c *connection) onHup(p Poller) error {
	c.hup.Store(true)
	if c.isCloseBy(none) {
		c.fill()
	}
	if c.closeBy(poller) {
		c.stream.Inbound().touch()
		c.triggerRead()
		c.triggerWrite(newError(KindClosed, "flush", errConnClosed))
		// It depends on closing by user if OnRead is nil, otherwise it needs to be released actively.
		var onRead, _ = c.onReadCallback.Load().(OnRead)
		if onRead != nil {
			c.closeCallback(true)
		}
	}
	return nil
}

// onClose means close by user.
func (c *connection) onClose() error {
	if c.closeBy(user) {
		c.stream.Inbound().touch()
		c.triggerRead()
		c.triggerWrite(newError(KindClosed, "flush", errConnClosed))
		c.closeCallback(true)
		return nil
	}
	if c.isCloseBy(poller) {
		// Connection with OnRead of nil
		// relies on the user to actively close the connection to recycle resources.
		c.closeCallback(true)
	}
	return nil
}

// closeBuffer recycles the queues. Unread input survives when nothing will
// process it, so a reader can still drain it after close.
func (c *connection) closeBuffer() {
	c.scheduler.reset(c.tasks)
	var onRead, _ = c.onReadCallback.Load().(OnRead)
	if c.stream.Len() == 0 || onRead != nil {
		c.stream.Inbound().Reset()
	}
	c.stream.flow.reset()
	if c.inputBarrier != nil {
		barrierPool.Put(c.inputBarrier)
		c.inputBarrier = nil
	}
}

// inputs implements FDOperator.
func (c *connection) inputs(vs [][]byte) (rs [][]byte) {
	c.booked = AllocSegment(c.bookSize)
	vs[0] = c.booked.Bytes()
	return vs[:1]
}

// inputAck implements FDOperator.
func (c *connection) inputAck(n int) (err error) {
	seg := c.booked
	c.booked = nil
	if n <= 0 {
		seg.Release()
		return nil
	}

	// Auto size bookSize.
	if n == c.bookSize && c.bookSize < mallocMax {
		c.bookSize <<= 1
	}
	seg.truncate(n)
	c.stream.Receive(seg)
	c.triggerRead()
	c.onRead()
	return nil
}

// onWrite implements FDOperator. It runs on the poller with the poller's
// task pool.
func (c *connection) onWrite(tasks *TaskPool) error {
	done, err := c.scheduler.drain(c.sock, tasks)
	if err != nil {
		c.writeFailed(err)
		c.triggerWrite(err)
		return err
	}
	if !done {
		return nil
	}
	c.wantWrite(false)
	// a flush may have queued bytes and asked for write interest meanwhile
	if c.stream.Pending() > 0 {
		c.wantWrite(true)
	}
	c.triggerWrite(nil)
	return nil
}

// flush writes directly and hands the rest to the poller when the socket is
// full.
func (c *connection) flush() error {
	done, err := c.scheduler.drain(c.sock, c.tasks)
	if err != nil {
		c.writeFailed(err)
		return err
	}
	if done {
		return nil
	}
	select {
	case <-c.writeTrigger:
	default:
	}
	if err = c.wantWrite(true); err != nil {
		return newError(KindWriteFailure, "flush", err)
	}
	if c.flushMode == FlushAsync {
		return nil
	}
	if !c.IsActive() {
		return newError(KindClosed, "flush", errConnClosed)
	}
	return <-c.writeTrigger
}

func (c *connection) writeFailed(err error) {
	if c.reusable.CompareAndSwap(true, false) {
		zlog.Errorf("connection %v write failed: %v", c.remoteAddr, err)
	}
}

// Suspend implements Transport: it stops reading from the socket.
func (c *connection) Suspend() error {
	return c.control(func() { c.readPaused = true })
}

// Resume implements Transport.
func (c *connection) Resume() error {
	return c.control(func() { c.readPaused = false })
}

func (c *connection) wantWrite(on bool) error {
	return c.control(func() { c.writeWanted = on })
}

// control applies update to the interest flags and re-registers the fd if
// the resulting mask changed.
func (c *connection) control(update func()) error {
	c.interestMu.Lock()
	defer c.interestMu.Unlock()
	before := c.interest()
	update()
	event := c.interest()
	if event == before || c.hup.Load() || !c.IsActive() || c.operator.poller == nil {
		return nil
	}
	return c.operator.Control(event)
}

func (c *connection) interest() EpollEvent {
	switch {
	case c.readPaused && c.writeWanted:
		return EpollModWrite
	case c.readPaused:
		return EpollModNone
	case c.writeWanted:
		return EpollModReadWrite
	}
	return EpollModRead
}
