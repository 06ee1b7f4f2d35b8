package zsock

import (
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

var errDeadlineUnsupported = errors.New("deadlines are not supported, use SetReadTimeout")

type netFD struct {
	// file descriptor
	fd int
	// closed marks whether fd has expired
	closed     uint32
	network    string // tcp tcp4 tcp6 unix
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (c *netFD) Fd() (fd int) {
	return c.fd
}

// Read reads from the socket without blocking. It returns 0 and a nil error
// when nothing is available.
func (c *netFD) Read(b []byte) (n int, err error) {
	n, err = unix.Read(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Write implements SocketWriter: 0 bytes and a nil error mean the socket
// would block.
func (c *netFD) Write(b []byte) (n int, err error) {
	for {
		n, err = unix.Write(c.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// Close will be executed only once.
func (c *netFD) Close() (err error) {
	if atomic.AddUint32(&c.closed, 1) != 1 {
		return nil
	}
	if c.fd > 0 {
		err = unix.Close(c.fd)
		if err != nil {
			zlog.Errorf("netFD[%d] close error: %s", c.fd, err.Error())
		}
	}
	return err
}

func (c *netFD) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

func (c *netFD) LocalAddr() (addr net.Addr) {
	return c.localAddr
}

func (c *netFD) RemoteAddr() (addr net.Addr) {
	return c.remoteAddr
}

// SetKeepAlive only applies to tcp sockets.
func (c *netFD) SetKeepAlive(second int) error {
	if !strings.HasPrefix(c.network, "tcp") {
		return nil
	}
	if second > 0 {
		return SetKeepAlive(c.fd, second)
	}
	return nil
}

func (c *netFD) SetDeadline(t time.Time) error {
	return errDeadlineUnsupported
}

func (c *netFD) SetReadDeadline(t time.Time) error {
	return errDeadlineUnsupported
}

func (c *netFD) SetWriteDeadline(t time.Time) error {
	return errDeadlineUnsupported
}
