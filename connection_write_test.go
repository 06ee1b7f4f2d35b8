package zsock

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writeStep struct {
	n   int
	err error
}

// scriptedSocket plays back steps, one per Write call. Once they run out it
// would block forever.
type scriptedSocket struct {
	steps []writeStep
	out   bytes.Buffer
	calls int
}

func (w *scriptedSocket) Write(p []byte) (int, error) {
	w.calls++
	if len(w.steps) == 0 {
		return 0, nil
	}
	st := w.steps[0]
	w.steps = w.steps[1:]
	if st.err != nil {
		return 0, st.err
	}
	n := min(st.n, len(p))
	w.out.Write(p[:n])
	return n, nil
}

// newScriptedConnection builds a connection that is not registered on any
// poller and writes into sock.
func newScriptedConnection(sock SocketWriter, opts ...Option) *connection {
	o := newOptions(opts...)
	c := &connection{
		operator:     &FDOperator{},
		sock:         sock,
		readTrigger:  make(chan struct{}, 1),
		writeTrigger: make(chan error, 1),
		flushMode:    o.flushMode,
	}
	c.stream = newStream(c, o)
	c.tasks = NewTaskPool(o.writeChunk)
	c.scheduler = newWriteScheduler(c.stream.Outbound(), o.writeChunk)
	c.reusable.Store(true)
	return c
}

func TestWriteSchedulerResumesPartialTask(t *testing.T) {
	var log callbackLog
	q := NewOutboundQueue()
	q.Append(CopySegment([]byte("hello world")), log.cb(1))
	s := newWriteScheduler(q, 64)
	pool := NewTaskPool(64)

	sock := &scriptedSocket{steps: []writeStep{{n: 4}, {n: 0}}}
	done, err := s.drain(sock, pool)
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, s.hasPending())
	assert.Equal(t, 11, q.Size())
	assert.Empty(t, log.order)

	sock.steps = []writeStep{{n: 100}}
	done, err = s.drain(sock, pool)
	require.NoError(t, err)
	assert.True(t, done)
	assert.False(t, s.hasPending())
	assert.Equal(t, "hello world", sock.out.String())
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, []string{"hello world"}, log.written)
}

func TestWriteSchedulerFailureKeepsSegments(t *testing.T) {
	var log callbackLog
	q := NewOutboundQueue()
	q.Append(CopySegment([]byte("abc")), log.cb(1))
	q.Append(CopySegment([]byte("def")), log.cb(2))
	s := newWriteScheduler(q, 64)
	pool := NewTaskPool(64)

	broken := errors.New("broken pipe")
	sock := &scriptedSocket{steps: []writeStep{{n: 2}, {err: broken}}}
	done, err := s.drain(sock, pool)
	assert.False(t, done)
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 6, q.Size())
	assert.Equal(t, []int{1, 2}, log.order)
	for _, e := range log.errs {
		assert.ErrorIs(t, e, broken)
	}

	// the lease was cancelled, not left outstanding
	l, err := q.Lease(64)
	require.NoError(t, err)
	assert.Equal(t, 6, l.Size())
	q.CancelLease()

	calls := sock.calls
	done, err = s.drain(sock, pool)
	assert.False(t, done)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, calls, sock.calls)

	s.reset(pool)
	assert.Equal(t, 0, q.Size())
	done, err = s.drain(sock, pool)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestConnectionFlushPartialThenFailure(t *testing.T) {
	sock := &scriptedSocket{}
	c := newScriptedConnection(sock,
		WithAutoFlush(false), WithFlushMode(FlushAsync), WithWriteChunkSize(4))
	assert.True(t, c.Reusable())

	_, err := c.WriteString("abcdefgh")
	require.NoError(t, err)
	sock.steps = []writeStep{{n: 3}, {n: 0}}
	require.NoError(t, c.Flush())
	assert.Equal(t, 8, c.Pending())
	assert.True(t, c.scheduler.hasPending())
	assert.True(t, c.writeWanted)
	assert.False(t, c.isIdle())

	// the socket became writable
	sock.steps = []writeStep{{n: 5}}
	require.NoError(t, c.onWrite(NewTaskPool(4)))
	assert.Equal(t, "abcdefgh", sock.out.String())
	assert.Equal(t, 0, c.Pending())
	assert.False(t, c.writeWanted)
	assert.NoError(t, <-c.writeTrigger)
	assert.True(t, c.Reusable())

	_, err = c.WriteString("xyz")
	require.NoError(t, err)
	sock.steps = []writeStep{{n: 1}, {err: errors.New("connection reset")}}
	err = c.Flush()
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Equal(t, 3, c.Pending())
	assert.False(t, c.reusable.Load())
	assert.False(t, c.Reusable())

	calls := sock.calls
	assert.ErrorIs(t, c.Flush(), ErrWriteFailure)
	assert.Equal(t, calls, sock.calls)
}
