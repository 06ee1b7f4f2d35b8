package zsock

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listener is a net.Listener whose socket a poller can watch.
type Listener interface {
	net.Listener
	Fd() int
}

// fileListener is what *net.TCPListener and *net.UnixListener have in common.
type fileListener interface {
	net.Listener
	File() (*os.File, error)
}

// ConvertListener takes over the socket of a *net.TCPListener or
// *net.UnixListener and switches it to non-blocking mode. The original
// listener stays open until the returned one is closed.
func ConvertListener(ln net.Listener) (Listener, error) {
	if l, ok := ln.(Listener); ok {
		return l, nil
	}
	fl, ok := ln.(fileListener)
	if !ok {
		return nil, fmt.Errorf("unsupported listener type %T", ln)
	}
	file, err := fl.File()
	if err != nil {
		return nil, fmt.Errorf("take over listener %v: %w", ln.Addr(), err)
	}
	l := &listener{
		fd:     int(file.Fd()),
		addr:   ln.Addr(),
		origin: ln,
		file:   file,
	}
	if err = unix.SetNonblock(l.fd, true); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

type listener struct {
	fd     int
	addr   net.Addr
	origin net.Listener
	file   *os.File
}

// Accept returns nil, nil when no connection is pending.
func (l *listener) Accept() (net.Conn, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	switch {
	case err == unix.EAGAIN:
		return nil, nil
	case err != nil:
		return nil, err
	}
	network := l.addr.Network()
	return &netFD{
		fd:         fd,
		network:    network,
		localAddr:  l.addr,
		remoteAddr: sockaddrToAddr(network, sa),
	}, nil
}

// Close closes the dup'd socket and the listener it was taken from.
func (l *listener) Close() error {
	return errors.Join(l.file.Close(), l.origin.Close())
}

func (l *listener) Addr() net.Addr {
	return l.addr
}

func (l *listener) Fd() int {
	return l.fd
}
