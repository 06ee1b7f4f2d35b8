package zsock

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/zhihanii/zlog"
)

func newServer(listener Listener, eh EventHandler, opts *options) *server {
	o := *opts
	o.onRead = eh.OnRead
	return &server{
		o:        &o,
		eh:       eh,
		listener: listener,
	}
}

type server struct {
	o           *options
	eh          EventHandler
	operator    *FDOperator
	listener    Listener
	connections sync.Map
}

func (s *server) Run() (err error) {
	s.operator = &FDOperator{
		FD:       s.listener.Fd(),
		OnAccept: s.OnAccept,
	}
	s.operator.poller = defaultPollerManager.Pick()
	if err = s.operator.Control(EpollRead); err != nil {
		zlog.Errorf("register listener %v failed: %v", s.listener.Addr(), err)
	}
	return err
}

func (s *server) Close(ctx context.Context) error {
	s.operator.Control(EpollDetach)
	s.listener.Close()

	var ticker = time.NewTicker(time.Second)
	defer ticker.Stop()
	var hasConn bool
	for {
		hasConn = false
		s.connections.Range(func(key, value interface{}) bool {
			var conn, ok = value.(gracefulExit)
			if !ok || conn.isIdle() {
				value.(Conn).Close()
			}
			hasConn = true
			return true
		})
		if !hasConn { // all connections have been closed
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			continue
		}
	}
}

func (s *server) OnAccept() error {
	conn, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		zlog.Errorf("accept connection failed: %v", err)
		return err
	}
	if conn == nil {
		return nil
	}

	var c = new(connection)
	if err = c.init(conn.(FDConn), s.o); err != nil {
		zlog.Errorf("init connection from %v failed: %v", conn.RemoteAddr(), err)
		return nil
	}
	if !c.IsActive() {
		return nil
	}
	var fd = conn.(FDConn).Fd()
	c.AddCloseCallback(func(Conn) error {
		s.connections.Delete(fd)
		return nil
	})
	s.connections.Store(fd, c)

	gopool.CtxGo(c.ctx, func() {
		if err := s.eh.OnConnect(c.ctx, c); err != nil {
			zlog.Errorf("OnConnect %v failed: %v", c.RemoteAddr(), err)
			c.Close()
		}
	})
	return nil
}
