package zsock

import (
	"github.com/bytedance/gopkg/lang/mcache"
)

// TaskKind is the transmission strategy picked for a lease.
type TaskKind int8

const (
	// TaskEmpty has nothing to send and completes immediately.
	TaskEmpty TaskKind = iota
	// TaskMerge copies several small segments into one transmit buffer.
	TaskMerge
	// TaskDirect sends a single segment straight from its memory.
	TaskDirect
)

func (k TaskKind) String() string {
	switch k {
	case TaskEmpty:
		return "empty"
	case TaskMerge:
		return "merge"
	case TaskDirect:
		return "direct"
	}
	return "unknown"
}

// WriteStatus is the outcome of one WriteTask.Write attempt.
type WriteStatus int8

const (
	WriteComplete WriteStatus = iota
	WritePartial
	WriteFailed
)

// SocketWriter is the non-blocking sink a task writes to. It returns 0 bytes
// and a nil error when the socket would block.
type SocketWriter interface {
	Write(p []byte) (n int, err error)
}

// WriteTask transmits one lease. A partially written task keeps its
// progress and is resumed by calling Write again on the next writable event.
type WriteTask struct {
	kind    TaskKind
	lease   *Lease
	buf     []byte // merge transmit buffer, kept across recycles
	data    []byte
	written int
	failed  bool
}

// Kind returns the strategy of the task.
func (t *WriteTask) Kind() TaskKind {
	return t.kind
}

// Pending returns the number of bytes still to be written.
func (t *WriteTask) Pending() int {
	return len(t.data) - t.written
}

// Write pushes the remaining bytes to w until they are all written, w would
// block, or w fails. On completion every leased segment's callback fires in
// enqueue order with its bytes; on failure every callback gets the error.
func (t *WriteTask) Write(w SocketWriter) (WriteStatus, error) {
	if t.failed {
		return WriteFailed, newError(KindWriteFailure, "write", nil)
	}
	for t.written < len(t.data) {
		n, err := w.Write(t.data[t.written:])
		if n > 0 {
			t.written += n
		}
		if err != nil {
			t.failed = true
			werr := newError(KindWriteFailure, "write", err)
			t.notify(werr)
			return WriteFailed, werr
		}
		if n <= 0 {
			return WritePartial, nil
		}
	}
	t.notify(nil)
	return WriteComplete, nil
}

func (t *WriteTask) notify(err error) {
	if t.lease == nil {
		return
	}
	for _, e := range t.lease.entries {
		if e.cb == nil {
			continue
		}
		if err != nil {
			e.cb(nil, err)
		} else {
			e.cb(e.seg.Bytes(), nil)
		}
	}
}

func (t *WriteTask) reset() {
	t.kind = TaskEmpty
	t.lease = nil
	t.data = nil
	t.written = 0
}

const maxPooledTasks = 64

// TaskPool recycles write tasks for one dispatch context. It is not safe for
// concurrent use: each poller owns one, and each connection owns one that is
// only touched under its write scheduler lock.
type TaskPool struct {
	chunk int
	free  []*WriteTask
}

// NewTaskPool returns a pool whose merge buffers hold at least chunk bytes.
func NewTaskPool(chunk int) *TaskPool {
	if chunk <= 0 {
		chunk = defaultWriteChunk
	}
	return &TaskPool{chunk: chunk}
}

// Get returns a task for l: Empty for an empty lease, Direct for a single
// segment and Merge otherwise.
func (p *TaskPool) Get(l *Lease) *WriteTask {
	var t *WriteTask
	if n := len(p.free); n > 0 {
		t = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		t = &WriteTask{}
	}
	t.lease = l
	switch {
	case l == nil || l.size == 0:
		t.kind = TaskEmpty
	case len(l.entries) == 1:
		t.kind = TaskDirect
		t.data = l.entries[0].seg.Bytes()
	default:
		t.kind = TaskMerge
		need := l.size
		if need < p.chunk {
			need = p.chunk
		}
		if cap(t.buf) < need {
			if t.buf != nil {
				mcache.Free(t.buf)
			}
			t.buf = mcache.Malloc(0, need)
		}
		data := t.buf[:0]
		for _, e := range l.entries {
			data = append(data, e.seg.Bytes()...)
		}
		t.data = data
	}
	return t
}

// Put recycles t. Failed tasks are dropped.
func (p *TaskPool) Put(t *WriteTask) {
	if t.failed || len(p.free) >= maxPooledTasks {
		if t.buf != nil {
			mcache.Free(t.buf)
			t.buf = nil
		}
		return
	}
	t.reset()
	p.free = append(p.free, t)
}

// Len returns the number of idle tasks.
func (p *TaskPool) Len() int {
	return len(p.free)
}
