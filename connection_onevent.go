package zsock

import (
	"github.com/bytedance/gopkg/util/gopool"
)

type gracefulExit interface {
	isIdle() bool
	Close() error
}

// onRead schedules the OnRead handler when new input arrived since it last
// ran.
func (c *connection) onRead() {
	var onRead, _ = c.onReadCallback.Load().(OnRead)
	if onRead == nil {
		return
	}
	c.onProcess(
		func(c *connection) bool {
			return c.stream.Len() > 0 && c.stream.Version() != c.processedVersion.Load()
		},
		func(c *connection) {
			c.processedVersion.Store(c.stream.Version())
			_ = onRead(c.ctx, c)
		},
	)
}

func (c *connection) onProcess(isProcessable func(c *connection) bool, process func(c *connection)) (processed bool) {
	if process == nil {
		return false
	}
	if !c.lock(processing) {
		return false
	}

	var task = func() {
	START:
		// `process` must be executed at least once if `isProcessable` in order to cover the `send & close by peer` case.
		// Then the loop processing must ensure that the connection `IsActive`.
		if isProcessable(c) {
			process(c)
		}
		for c.IsActive() && isProcessable(c) {
			process(c)
		}
		// Handling callback if connection has been closed.
		if !c.IsActive() {
			c.closeCallback(false)
			return
		}
		c.unlock(processing)
		// Double check when exiting.
		if isProcessable(c) && c.lock(processing) {
			goto START
		}
	}

	gopool.CtxGo(c.ctx, task)
	return true
}

func (c *connection) isIdle() bool {
	return c.isUnlock(processing) &&
		c.stream.Len() == 0 &&
		c.stream.Pending() == 0 &&
		!c.scheduler.hasPending()
}
