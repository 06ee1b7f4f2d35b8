package zsock

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DialConnection dials addr and hands the socket to a poller. Only stream
// networks are supported: tcp, tcp4, tcp6 and unix.
func DialConnection(network, address string, timeout time.Duration, opts ...Option) (Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return nil, net.UnknownNetworkError(network)
	}
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	nfd, err := dupConn(conn)
	conn.Close()
	if err != nil {
		return nil, err
	}

	o := newOptions(opts...)
	var c = new(connection)
	if err = c.init(nfd, o); err != nil {
		return nil, err
	}
	if o.onConnect != nil {
		if err = o.onConnect(c.ctx, c); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// dupConn duplicates the descriptor of conn so the net package can keep
// ownership of its own copy.
func dupConn(conn net.Conn) (*netFD, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, net.UnknownNetworkError(conn.LocalAddr().Network())
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var dupErr error
	err = raw.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	})
	if err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	return &netFD{
		fd:         fd,
		network:    conn.LocalAddr().Network(),
		localAddr:  conn.LocalAddr(),
		remoteAddr: conn.RemoteAddr(),
	}, nil
}
