package zsock

import (
	"sync"
)

// writeScheduler moves the outbound queue onto the socket, one lease at a
// time. At most one task is in flight: a task that stopped on a full socket
// is kept and resumed by the next drain, whichever goroutine runs it.
type writeScheduler struct {
	mu      sync.Mutex
	queue   *OutboundQueue
	chunk   int
	pending *WriteTask
	broken  error
}

func newWriteScheduler(queue *OutboundQueue, chunk int) *writeScheduler {
	if chunk <= 0 {
		chunk = defaultWriteChunk
	}
	return &writeScheduler{queue: queue, chunk: chunk}
}

// drain writes until the queue is empty (done), the socket would block, or
// the socket fails. After a failure every later drain reports the same error.
func (s *writeScheduler) drain(w SocketWriter, pool *TaskPool) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return false, s.broken
	}
	for {
		t := s.pending
		s.pending = nil
		if t == nil {
			l, err := s.queue.Lease(s.chunk)
			if err != nil {
				return false, err
			}
			t = pool.Get(l)
		}

		status, err := t.Write(w)
		switch status {
		case WritePartial:
			s.pending = t
			return false, nil
		case WriteFailed:
			s.queue.CancelLease()
			pool.Put(t)
			s.broken = err
			return false, err
		}

		empty := t.Kind() == TaskEmpty
		if err = s.queue.ReleaseLeased(); err != nil {
			pool.Put(t)
			return false, err
		}
		pool.Put(t)
		if empty {
			return true, nil
		}
	}
}

// hasPending reports whether a task stopped on a full socket.
func (s *writeScheduler) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// reset drops the in-flight task and clears the failure, then empties the
// queue.
func (s *writeScheduler) reset(pool *TaskPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		pool.Put(s.pending)
		s.pending = nil
	}
	s.broken = nil
	s.queue.Reset()
}
