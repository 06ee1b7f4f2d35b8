package zsock

import (
	"context"
	"time"
)

// FlushMode decides whether Flush waits for the outbound queue to drain.
type FlushMode int8

const (
	// FlushSync blocks in Flush until every queued byte is written or the
	// connection fails.
	FlushSync FlushMode = iota
	// FlushAsync makes one write attempt and leaves the rest to the poller.
	FlushAsync
)

const (
	defaultReadThreshold = 64 * 1024
	defaultWriteChunk    = pageSize
)

type Option func(o *options)

type options struct {
	readTimeout   time.Duration
	idleTimeout   time.Duration
	readThreshold int
	writeChunk    int
	maxWriteSize  int
	flushMode     FlushMode
	autoFlush     bool
	onConnect     OnConnect
	onRead        OnRead
}

func newOptions(opts ...Option) *options {
	o := &options{
		readThreshold: defaultReadThreshold,
		writeChunk:    defaultWriteChunk,
		flushMode:     FlushSync,
		autoFlush:     true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithReadTimeout bounds how long blocking reads wait for data. Zero waits
// forever.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readTimeout = d
	}
}

// WithIdleTimeout enables TCP keepalive probes after d of idleness.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithReadBufferThreshold sets the buffered byte count at which reading from
// the socket is suspended. Zero disables backpressure.
func WithReadBufferThreshold(n int) Option {
	return func(o *options) {
		o.readThreshold = n
	}
}

// WithWriteChunkSize sets the most bytes a single write task sends.
func WithWriteChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.writeChunk = n
		}
	}
}

// WithMaxWriteBufferSize caps the outbound queue; writes beyond it fail with
// ErrOverflow. Zero means no cap.
func WithMaxWriteBufferSize(n int) Option {
	return func(o *options) {
		o.maxWriteSize = n
	}
}

func WithFlushMode(m FlushMode) Option {
	return func(o *options) {
		o.flushMode = m
	}
}

// WithAutoFlush makes every write call flush.
func WithAutoFlush(on bool) Option {
	return func(o *options) {
		o.autoFlush = on
	}
}

func WithOnConnect(fn func(ctx context.Context, conn Conn) error) Option {
	return func(o *options) {
		o.onConnect = fn
	}
}

func WithOnRead(fn func(ctx context.Context, conn Conn) error) Option {
	return func(o *options) {
		o.onRead = fn
	}
}
