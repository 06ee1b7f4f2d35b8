package zsock

import (
	"net"

	"golang.org/x/sys/unix"
)

// barriercap is the most buffers handed to a single readv.
const barriercap = 32

// barrier holds the iovec slices of one readv.
type barrier struct {
	bs [][]byte
}

func newBarrier() *barrier {
	return &barrier{bs: make([][]byte, barriercap)}
}

// readv reads into bs. EINTR is retried; EAGAIN is reported to the caller.
func readv(fd int, bs [][]byte) (n int, err error) {
	for {
		n, err = unix.Readv(fd, bs)
		if err != unix.EINTR {
			return n, err
		}
	}
}

func sockaddrToAddr(network string, sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Net: network, Name: sa.Name}
	}
	return nil
}
