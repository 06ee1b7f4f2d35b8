package zsock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Operator states.
const (
	opUnused int32 = iota
	opInuse
	opHandling
)

// FDOperator binds a file descriptor to the callbacks its poller runs.
type FDOperator struct {
	FD int

	OnAccept func() error
	OnHup    func(Poller) error

	// Inputs books buffers for a readv and InputAck hands over the n bytes
	// that were read. Both are required for connections.
	Inputs   func(vs [][]byte) (rs [][]byte)
	InputAck func(n int) (err error)

	// OnWrite resumes the pending transmission when the socket is writable.
	// tasks is owned by the calling poller.
	OnWrite func(tasks *TaskPool) error

	poller       Poller
	state        atomic.Int32
	isConnection bool
}

func (o *FDOperator) Control(event EpollEvent) error {
	return o.poller.Control(o, event)
}

func (o *FDOperator) isUnused() bool {
	return o.state.Load() == opUnused
}

// unused waits for a running event handler to finish, then retires o.
func (o *FDOperator) unused() {
	o.transit(opInuse, opUnused)
}

func (o *FDOperator) inuse() {
	o.transit(opUnused, opInuse)
}

// transit moves o from one state to another, spinning while a handler holds
// it. Being in the target state already is fine.
func (o *FDOperator) transit(from, to int32) {
	for !o.state.CompareAndSwap(from, to) {
		if o.state.Load() == to {
			return
		}
		runtime.Gosched()
	}
}

// tryOnEvent claims o for one event; it fails for retired operators and
// while another event is being handled.
func (o *FDOperator) tryOnEvent() bool {
	return o.state.CompareAndSwap(opInuse, opHandling)
}

func (o *FDOperator) done() {
	o.state.Store(opInuse)
}

// reset clears everything but the state, which a stale event may still be
// reading.
func (o *FDOperator) reset() {
	o.FD = 0
	o.OnAccept, o.OnHup = nil, nil
	o.Inputs, o.InputAck, o.OnWrite = nil, nil, nil
	o.poller = nil
	o.isConnection = false
}

// operatorSlab is how many operators are allocated at once.
const operatorSlab = 64

var opcache = &operatorCache{}

// operatorCache recycles connection operators. epoll keeps raw pointers to
// them, so every operator ever handed out stays referenced by all.
type operatorCache struct {
	mu   sync.Mutex
	all  []*FDOperator
	free []*FDOperator
}

func allocOp() *FDOperator {
	return opcache.alloc()
}

func freeOp(op *FDOperator) {
	opcache.release(op)
}

func (c *operatorCache) alloc() *FDOperator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.free) == 0 {
		slab := make([]FDOperator, operatorSlab)
		for i := range slab {
			c.all = append(c.all, &slab[i])
			c.free = append(c.free, &slab[i])
		}
	}
	op := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	return op
}

func (c *operatorCache) release(op *FDOperator) {
	op.unused()
	op.reset()
	c.mu.Lock()
	c.free = append(c.free, op)
	c.mu.Unlock()
}

// size returns the number of operators ever allocated.
func (c *operatorCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.all)
}
