package zsock

import (
	"runtime"
	"sync/atomic"
)

// who closed a connection.
type who int32

const (
	none who = iota
	user
	poller
)

// key names one of the connection's independent locks. closing never
// unlocks: it holds whoever closed the connection first. processing is held
// by the goroutine running OnRead. flushing is held while Flush writes.
// finalizing is held by the last kernel read after a hangup. The close
// callbacks stop flushing and finalizing before the buffers are recycled.
type key int32

const (
	closing key = iota
	processing
	flushing
	finalizing
	numKeys
)

// Key states.
const (
	keyFree int32 = iota
	keyHeld
	keyStopped
)

type locker struct {
	keys [numKeys]atomic.Int32
}

func (l *locker) closeBy(w who) bool {
	return l.keys[closing].CompareAndSwap(int32(none), int32(w))
}

func (l *locker) isCloseBy(w who) bool {
	return l.keys[closing].Load() == int32(w)
}

func (l *locker) lock(k key) bool {
	return l.keys[k].CompareAndSwap(keyFree, keyHeld)
}

func (l *locker) unlock(k key) {
	l.keys[k].Store(keyFree)
}

// stop waits for the holder of k to let go and then keeps k locked for good.
func (l *locker) stop(k key) {
	for !l.keys[k].CompareAndSwap(keyFree, keyStopped) {
		if l.keys[k].Load() == keyStopped {
			return
		}
		runtime.Gosched()
	}
}

func (l *locker) isUnlock(k key) bool {
	return l.keys[k].Load() == keyFree
}
