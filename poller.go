package zsock

import (
	"runtime"
	"unsafe"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

type Poller interface {
	Poll() error

	Close() error

	Control(operator *FDOperator, event EpollEvent) error
}

// EpollEvent selects the interest set registered for an operator.
type EpollEvent int8

const (
	// EpollRead adds the fd with read interest.
	EpollRead EpollEvent = 0x1
	// EpollDetach removes the fd.
	EpollDetach EpollEvent = 0x2
	// EpollModRead keeps read interest only.
	EpollModRead EpollEvent = 0x3
	// EpollModReadWrite adds write interest while a transmission is pending.
	EpollModReadWrite EpollEvent = 0x4
	// EpollModWrite keeps write interest while reading is suspended.
	EpollModWrite EpollEvent = 0x5
	// EpollModNone suspends both directions; hangups are still reported.
	EpollModNone EpollEvent = 0x6
)

const (
	pollerInitEvents = 128
	pollerMaxEvents  = 128 * 1024
)

func openPoller() Poller {
	return openDefaultPoller()
}

// defaultPoller runs one epoll loop. The TaskPool is only touched from the
// loop goroutine, by the writable handlers of the connections it serves.
type defaultPoller struct {
	size     int
	events   []epollevent
	barriers []barrier
	hups     []func(Poller) error
	fd       int
	wop      *FDOperator
	buf      []byte
	tasks    *TaskPool
}

func openDefaultPoller() *defaultPoller {
	var p = new(defaultPoller)
	var err error
	p.buf = make([]byte, 8)
	p.tasks = NewTaskPool(defaultWriteChunk)
	p.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		panic(err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(p.fd)
		panic(err)
	}
	p.wop = &FDOperator{FD: efd}
	if err = p.Control(p.wop, EpollRead); err != nil {
		unix.Close(efd)
		unix.Close(p.fd)
		panic(err)
	}
	return p
}

func (p *defaultPoller) reset(size int) {
	p.size = size
	p.events, p.barriers = make([]epollevent, size), make([]barrier, size)
	for i := range p.barriers {
		p.barriers[i].bs = make([][]byte, barriercap)
	}
}

func (p *defaultPoller) Poll() (err error) {
	var msec, n = -1, 0
	p.reset(pollerInitEvents)
	for {
		if n == p.size && p.size < pollerMaxEvents {
			p.reset(p.size << 1)
		}
		n, err = EpollWait(p.fd, p.events, msec)
		if err != nil && err != unix.EINTR {
			zlog.Errorf("epoll_wait(fd=%d) failed: %v", p.fd, err)
			return err
		}
		if n <= 0 {
			msec = -1
			runtime.Gosched()
			continue
		}
		msec = 0
		if p.handle(p.events[:n]) {
			return nil
		}
	}
}

func (p *defaultPoller) handle(events []epollevent) (closed bool) {
	for i := range events {
		var operator = *(**FDOperator)(unsafe.Pointer(&events[i].data))
		if !operator.tryOnEvent() {
			continue
		}

		if operator.FD == p.wop.FD {
			unix.Read(p.wop.FD, p.buf)
			if p.buf[0] > 0 {
				unix.Close(p.wop.FD)
				unix.Close(p.fd)
				operator.done()
				return true
			}
			operator.done()
			continue
		}

		evt := events[i].events
		if evt&unix.EPOLLIN != 0 {
			if operator.isConnection {
				var bs = operator.Inputs(p.barriers[i].bs)
				if len(bs) > 0 {
					var n, err = readv(operator.FD, bs)
					if n < 0 {
						n = 0
					}
					operator.InputAck(n)
					if err != nil && err != unix.EAGAIN {
						zlog.Errorf("readv(fd=%d) failed: %s", operator.FD, err.Error())
						p.appendHup(operator)
						continue
					}
					if n == 0 && err == nil {
						// orderly shutdown by the peer
						p.appendHup(operator)
						continue
					}
				}
			} else if operator.OnAccept != nil {
				operator.OnAccept()
			}
		}

		if evt&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 {
			p.appendHup(operator)
			continue
		}

		if evt&unix.EPOLLOUT != 0 && operator.OnWrite != nil {
			if err := operator.OnWrite(p.tasks); err != nil {
				zlog.Errorf("write(fd=%d) failed: %v", operator.FD, err)
				p.appendHup(operator)
				continue
			}
		}
		operator.done()
	}
	p.detaches()
	return false
}

// Close stops the loop; the epoll and eventfd descriptors are closed by it.
func (p *defaultPoller) Close() error {
	_, err := unix.Write(p.wop.FD, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	return err
}

func (p *defaultPoller) Control(operator *FDOperator, event EpollEvent) error {
	var op int
	var evt epollevent
	*(**FDOperator)(unsafe.Pointer(&evt.data)) = operator
	const hup = unix.EPOLLRDHUP | unix.EPOLLERR
	switch event {
	case EpollRead:
		operator.inuse()
		op, evt.events = unix.EPOLL_CTL_ADD, unix.EPOLLIN|hup
	case EpollDetach:
		op, evt.events = unix.EPOLL_CTL_DEL, unix.EPOLLIN|unix.EPOLLOUT|hup
	case EpollModRead:
		operator.inuse()
		op, evt.events = unix.EPOLL_CTL_MOD, unix.EPOLLIN|hup
	case EpollModReadWrite:
		op, evt.events = unix.EPOLL_CTL_MOD, unix.EPOLLIN|unix.EPOLLOUT|hup
	case EpollModWrite:
		op, evt.events = unix.EPOLL_CTL_MOD, unix.EPOLLOUT|hup
	case EpollModNone:
		op, evt.events = unix.EPOLL_CTL_MOD, hup
	}
	return EpollCtl(p.fd, op, operator.FD, &evt)
}

func (p *defaultPoller) appendHup(operator *FDOperator) {
	p.hups = append(p.hups, operator.OnHup)
	operator.Control(EpollDetach)
	operator.done()
}

// detaches runs the hangup callbacks off the loop goroutine.
func (p *defaultPoller) detaches() {
	if len(p.hups) == 0 {
		return
	}
	hups := p.hups
	p.hups = nil
	go func(hups []func(p Poller) error) {
		for i := range hups {
			if hups[i] != nil {
				hups[i](p)
			}
		}
	}(hups)
}
