package zsock

import (
	"context"
	"net"
	"runtime"
	"sync"
)

type EventLoop interface {
	Serve(listener net.Listener) error
	Shutdown(ctx context.Context) error
}

// NewEventLoop returns an event loop that dispatches the connections it
// accepts to eh.
func NewEventLoop(eh EventHandler, opts ...Option) EventLoop {
	return &eventLoop{
		o:    newOptions(opts...),
		stop: make(chan error, 1),
		eh:   eh,
	}
}

type eventLoop struct {
	mu   sync.Mutex
	o    *options
	s    *server
	stop chan error
	eh   EventHandler
}

// Serve blocks until Shutdown is called or registering the listener fails.
func (evl *eventLoop) Serve(netListener net.Listener) error {
	l, err := ConvertListener(netListener)
	if err != nil {
		return err
	}
	s := newServer(l, evl.eh, evl.o)
	evl.mu.Lock()
	evl.s = s
	evl.mu.Unlock()
	if err = s.Run(); err != nil {
		evl.mu.Lock()
		evl.s = nil
		evl.mu.Unlock()
		l.Close()
		return err
	}

	err = evl.waitQuit()
	// ensure evl will not be finalized until Serve returns
	runtime.SetFinalizer(evl, nil)
	return err
}

// Shutdown stops accepting and closes connections as they become idle,
// until none is left or ctx is done.
func (evl *eventLoop) Shutdown(ctx context.Context) error {
	evl.mu.Lock()
	var s = evl.s
	evl.s = nil
	evl.mu.Unlock()

	if s == nil {
		return nil
	}
	evl.quit(nil)
	return s.Close(ctx)
}

// waitQuit waits for a quit signal
func (evl *eventLoop) waitQuit() error {
	return <-evl.stop
}

func (evl *eventLoop) quit(err error) {
	select {
	case evl.stop <- err:
	default:
	}
}
