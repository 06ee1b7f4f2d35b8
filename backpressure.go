package zsock

import (
	"sync"

	"github.com/zhihanii/zlog"
)

// flowController turns inbound queue size changes into suspend/resume
// requests. Requests are edge-triggered: one Suspend when the size first
// reaches the limit, one Resume when it drops back below the threshold.
//
// The limit is the threshold, raised to the demand of a reader that is
// waiting for more bytes than the threshold allows to buffer. The queue size
// is sampled under mu so decisions never act on a size another goroutine
// already changed.
type flowController struct {
	mu        sync.Mutex
	threshold int
	want      int
	suspended bool
	size      func() int
	t         Transport
}

func newFlowController(t Transport, size func() int, threshold int) *flowController {
	return &flowController{t: t, size: size, threshold: threshold}
}

func (f *flowController) limit() int {
	if f.want > f.threshold {
		return f.want
	}
	return f.threshold
}

func (f *flowController) afterAppend() {
	if f.threshold <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suspended || f.size() < f.limit() {
		return
	}
	f.suspended = true
	if err := f.t.Suspend(); err != nil {
		zlog.Errorf("suspend read failed: %v", err)
	}
}

// afterExtract settles any pending demand and resumes once the queue is back
// under the threshold.
func (f *flowController) afterExtract() {
	if f.threshold <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.want = 0
	if !f.suspended || f.size() >= f.threshold {
		return
	}
	f.resume()
}

// demand records that a reader needs n buffered bytes before it can make
// progress, resuming input if it was suspended short of that.
func (f *flowController) demand(n int) {
	if f.threshold <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > f.want {
		f.want = n
	}
	if !f.suspended || f.size() >= f.limit() {
		return
	}
	f.resume()
}

func (f *flowController) resume() {
	f.suspended = false
	if err := f.t.Resume(); err != nil {
		zlog.Errorf("resume read failed: %v", err)
	}
}

func (f *flowController) isSuspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

// reset forgets the suspension and any demand, resuming the transport if it
// was suspended.
func (f *flowController) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.want = 0
	if f.suspended {
		f.resume()
	}
}
